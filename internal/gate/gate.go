// Package gate decides whether a view may be shown for an access state.
package gate

import (
	"context"
	"fmt"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/session"
)

const (
	LoginPath   = "/login"
	LandingPath = "/dashboard"
)

// Resource classifies a view for the gate.
type Resource int

const (
	// Public views are open to everyone.
	Public Resource = iota
	// Protected views need a signed-in user.
	Protected
	// AuthEntry views, such as the login page, are skipped by signed-in users.
	AuthEntry
)

// Decision is the outcome of an evaluation. Target is set when Allow is false.
type Decision struct {
	Allow  bool
	Target string
}

// Allow lets the request through.
var Allow = Decision{Allow: true}

// Redirect sends the caller to target.
func Redirect(target string) Decision { return Decision{Target: target} }

// Evaluate applies the access policy. Evaluating an Unknown state is a
// caller bug and returns apperr.ErrAccessUnknown.
func Evaluate(state session.AccessState, r Resource) (Decision, error) {
	switch state {
	case session.Anonymous, session.Authenticated:
	default:
		return Decision{}, fmt.Errorf("gate: evaluate %v: %w", state, apperr.ErrAccessUnknown)
	}
	switch r {
	case Protected:
		if state == session.Authenticated {
			return Allow, nil
		}
		return Redirect(LoginPath), nil
	case AuthEntry:
		if state == session.Authenticated {
			return Redirect(LandingPath), nil
		}
		return Allow, nil
	default:
		return Allow, nil
	}
}

// StateSource reports the current access state.
type StateSource interface {
	State() session.AccessState
	AwaitReady(ctx context.Context) (session.AccessState, error)
}

// Gate binds the policy to a session manager.
type Gate struct {
	sessions StateSource
}

// New creates a gate over sessions.
func New(sessions StateSource) *Gate { return &Gate{sessions: sessions} }

// Evaluate decides for the current state. It must only be called after the
// session manager is ready.
func (g *Gate) Evaluate(requiresAuth bool) (Decision, error) {
	r := Public
	if requiresAuth {
		r = Protected
	}
	return Evaluate(g.sessions.State(), r)
}

// Check waits for the session manager to be ready, then evaluates r.
func (g *Gate) Check(ctx context.Context, r Resource) (Decision, error) {
	state, err := g.sessions.AwaitReady(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: await session: %w", err)
	}
	return Evaluate(state, r)
}
