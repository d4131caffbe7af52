// Package web serves the notes client over HTTP using chi.
package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/gate"
)

// Guard returns middleware that waits for the session to be resolved and
// applies the access policy for resource. Denied requests are redirected
// with 303 See Other.
func Guard(g *gate.Gate, resource gate.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Check(r.Context(), resource)
			if err != nil {
				if errors.Is(err, apperr.ErrAccessUnknown) {
					slog.Error("web: gate evaluated before session resolved", slog.String("path", r.URL.Path))
				}
				writeJSON(w, http.StatusServiceUnavailable, errorBody("session not ready"))
				return
			}
			if !d.Allow {
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
