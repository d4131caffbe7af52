package web

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/skillnotes/internal/gate"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/noteservice"
)

// Sessions is the session manager as seen by the handlers.
type Sessions interface {
	gate.StateSource
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	Current() *models.Session
}

// Files serves stored binaries for locally minted references.
type Files interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Verify(key, token string) error
}

// Deps are the collaborators of the router. Files and Events are optional.
type Deps struct {
	Notes    *noteservice.Service
	Sessions Sessions
	Files    Files
	Events   http.Handler
}

// NewRouter creates a chi router with all routes mounted.
func NewRouter(d Deps) chi.Router {
	g := gate.New(d.Sessions)
	h := &Handler{notes: d.Notes, sessions: d.Sessions}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	// Login form and submission are skipped by signed-in users.
	r.Group(func(r chi.Router) {
		r.Use(Guard(g, gate.AuthEntry))
		r.Get(gate.LoginPath, h.LoginForm)
		r.Post(gate.LoginPath, h.Login)
	})
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(Guard(g, gate.Protected))
		r.Get(gate.LandingPath, h.Dashboard)
		r.Get("/session", h.Session)
		r.Get("/notes", h.ListNotes)
		r.Post("/notes", h.PublishNote)
		r.Get("/notes/{id}", h.GetNote)
		r.Put("/notes/{id}", h.UpdateNote)
		r.Delete("/notes/{id}", h.RetractNote)
		if d.Events != nil {
			r.Get("/events", d.Events.ServeHTTP)
		}
	})

	// References carry their own token.
	if d.Files != nil {
		r.Get("/files/*", NewFileHandler(d.Files).ServeFile)
	}
	return r
}
