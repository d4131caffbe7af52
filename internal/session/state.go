// Package session owns the authentication state machine of the client
// process: initial credential resolution, sign-in and sign-out, token
// refresh and mirroring of externally pushed credential changes.
package session

import (
	"context"
	"time"

	"github.com/starford/skillnotes/internal/models"
)

// AccessState classifies whether a usable session exists.
type AccessState int

const (
	// Unknown is the state before the initial resolution completes.
	Unknown AccessState = iota
	Anonymous
	Authenticated
)

func (s AccessState) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Provider is the identity provider the manager authenticates against.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (*models.Session, error)
	// Refresh exchanges a refresh token. An error wrapping apperr.ErrAuth is
	// irrecoverable; any other error is treated as transient.
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	Revoke(ctx context.Context, s *models.Session) error
}

// Change is a credential change pushed by an external source. A nil
// Session means signed out; when UserID is set, a sign-out only applies
// if that user is the one signed in.
type Change struct {
	Session *models.Session
	UserID  string
	At      time.Time
}

// ChangeSource pushes credential changes until ctx is cancelled.
type ChangeSource interface {
	Changes(ctx context.Context) (<-chan Change, error)
}

// Validator is implemented by providers able to check token signatures
// locally. Restored tokens failing validation are refreshed.
type Validator interface {
	Validate(token string) error
}

// Warning is returned by SignOut when the provider could not be told
// about the sign-out. Local state is cleared regardless.
type Warning struct {
	Err error
}

func (w *Warning) Error() string { return "session: sign-out not confirmed by provider: " + w.Err.Error() }

func (w *Warning) Unwrap() error { return w.Err }

// Clock abstracts time for expiry scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func deriveState(s *models.Session, now time.Time) AccessState {
	if s == nil || s.Expired(now) {
		return Anonymous
	}
	return Authenticated
}
