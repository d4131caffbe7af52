package models

import "time"

// Session is the live authentication credential of the client process.
type Session struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	Email        string    `json:"email,omitempty" yaml:"email"`
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
	IssuedAt     time.Time `json:"issued_at" yaml:"issued_at"`
}

// Expired reports whether the access token is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Clone returns a copy safe to hand to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
