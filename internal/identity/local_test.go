package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLocal("test-signing-key", time.Hour, []LocalUser{
		{ID: "u1", Email: "Student@Example.com", PasswordHash: hash},
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLocalAuthenticate(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	s, err := l.Authenticate(ctx, "student@example.com", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != "u1" || s.AccessToken == "" || s.RefreshToken == "" {
		t.Errorf("session = %+v", s)
	}
	if d := s.ExpiresAt.Sub(s.IssuedAt); d != time.Hour {
		t.Errorf("lifetime = %v", d)
	}

	claims, err := l.Verify(s.AccessToken)
	if err != nil || claims.Subject != "u1" {
		t.Errorf("Verify = %+v, %v", claims, err)
	}
	if err := l.Validate(s.RefreshToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}

	for _, tc := range []struct{ email, password string }{
		{"student@example.com", "wrong"},
		{"nobody@example.com", "secret"},
	} {
		if _, err := l.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, apperr.ErrAuth) {
			t.Errorf("Authenticate(%s, %s) err = %v", tc.email, tc.password, err)
		}
	}
}

func TestLocalRejectsForeignAndExpiredTokens(t *testing.T) {
	l := newTestLocal(t)
	other, _ := NewLocal("other-key", time.Hour, nil)
	other.users = l.users

	s, _ := other.Authenticate(context.Background(), "student@example.com", "secret")
	if err := l.Validate(s.AccessToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("foreign token err = %v", err)
	}

	s, _ = l.Authenticate(context.Background(), "student@example.com", "secret")
	l.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := l.Validate(s.AccessToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("expired token err = %v", err)
	}
}

func TestLocalRefreshIsSingleUse(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	s, _ := l.Authenticate(ctx, "student@example.com", "secret")

	ns, err := l.Refresh(ctx, s.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if ns.UserID != "u1" || ns.RefreshToken == s.RefreshToken {
		t.Errorf("refreshed = %+v", ns)
	}
	if _, err := l.Refresh(ctx, s.RefreshToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("reused refresh token err = %v", err)
	}
}

func TestLocalRevoke(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	s, _ := l.Authenticate(ctx, "student@example.com", "secret")

	if err := l.Revoke(ctx, s); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := l.Revoke(ctx, s); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if _, err := l.Refresh(ctx, s.RefreshToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("revoked refresh err = %v", err)
	}
}

func TestLocalRevokeUserNotifiesWatchers(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := l.Authenticate(ctx, "student@example.com", "secret")

	ch, err := l.Changes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	l.RevokeUser("u1")

	select {
	case change := <-ch:
		if change.UserID != "u1" || change.Session != nil {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	if _, err := l.Refresh(ctx, s.RefreshToken); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("refresh after user revocation err = %v", err)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected change after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNewLocalValidation(t *testing.T) {
	if _, err := NewLocal("", time.Hour, nil); err == nil {
		t.Error("empty signing key accepted")
	}
	if _, err := NewLocal("k", time.Hour, []LocalUser{{ID: "u1", Email: "a@b.c"}}); err == nil {
		t.Error("user without password hash accepted")
	}
}
