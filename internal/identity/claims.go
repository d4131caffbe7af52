// Package identity provides identity provider backends: a local provider
// issuing signed tokens for configured users, and a remote client for a
// GoTrue-compatible authentication service.
package identity

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// Audience is the audience claim carried by signed-in user tokens.
const Audience = "authenticated"

// Claims are the access token claims the client relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}

// ClaimsFromToken reads the identity and expiry of an access token without
// verifying its signature. The client never trusts these claims for
// authorization; they only drive expiry scheduling and display.
func ClaimsFromToken(token string) (*Claims, error) {
	parser := gojwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("identity: token has no subject: %w", apperr.ErrAuth)
	}
	return claims, nil
}

// sessionFromToken builds a Session from a freshly issued token pair.
// expiresIn is used when the token carries no exp claim.
func sessionFromToken(access, refresh string, expiresIn time.Duration, now time.Time) (*models.Session, error) {
	claims, err := ClaimsFromToken(access)
	if err != nil {
		return nil, err
	}
	s := &models.Session{
		UserID:       claims.Subject,
		Email:        claims.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     now,
	}
	switch {
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	case expiresIn > 0:
		s.ExpiresAt = now.Add(expiresIn)
	default:
		return nil, errors.New("identity: token has no expiry")
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}
