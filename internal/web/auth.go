package web

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/starford/skillnotes/internal/gate"
	"github.com/starford/skillnotes/internal/session"
)

const loginForm = `<!doctype html>
<title>Sign in</title>
<form method="post" action="/login">
<input name="email" type="email" placeholder="Email" required>
<input name="password" type="password" placeholder="Password" required>
<button>Sign in</button>
</form>
`

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	State     string    `json:"state"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Warning   string    `json:"warning,omitempty"`
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It reports 503 until the persisted
// session has been resolved.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.sessions.AwaitReady(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LoginForm handles GET /login.
func (h *Handler) LoginForm(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(loginForm))
}

// Login handles POST /login with a JSON body or a form. Form posts are
// redirected to the landing view on success.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	var req loginRequest
	isForm := false
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		isForm = true
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email and password are required"))
		return
	}

	s, err := h.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, "login", err)
		return
	}
	if isForm {
		http.Redirect(w, r, gate.LandingPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		State:     session.Authenticated.String(),
		UserID:    s.UserID,
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt,
	})
}

// Logout handles POST /logout. It always succeeds locally; a provider
// failure is reported as a warning.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{State: session.Anonymous.String()}
	if err := h.sessions.SignOut(r.Context()); err != nil {
		var warn *session.Warning
		if !errors.As(err, &warn) {
			writeError(w, "logout", err)
			return
		}
		resp.Warning = warn.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session handles GET /session.
func (h *Handler) Session(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Current()
	if s == nil {
		writeJSON(w, http.StatusOK, sessionResponse{State: session.Anonymous.String()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		State:     session.Authenticated.String(),
		UserID:    s.UserID,
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt,
	})
}
