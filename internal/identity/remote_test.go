package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

func accessToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email: subject + "@example.com",
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   subject,
			Audience:  gojwt.ClaimStrings{Audience},
			IssuedAt:  gojwt.NewNumericDate(exp.Add(-time.Hour)),
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
	}
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("server-key"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestRemoteGrants(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := accessToken(t, "u1", exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.Header.Get("apikey") != "anon" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
				return
			}
		case "refresh_token":
			if body["refresh_token"] == "broken" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"refresh_token": "r1",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL, "anon", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s, err := r.Authenticate(ctx, "u1@example.com", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != "u1" || s.RefreshToken != "r1" || !s.ExpiresAt.Equal(exp) {
		t.Errorf("session = %+v", s)
	}

	_, err = r.Authenticate(ctx, "u1@example.com", "wrong")
	if !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("bad password err = %v, want ErrAuth", err)
	}

	if _, err := r.Refresh(ctx, "r1"); err != nil {
		t.Errorf("Refresh: %v", err)
	}
	_, err = r.Refresh(ctx, "broken")
	if err == nil || errors.Is(err, apperr.ErrAuth) {
		t.Errorf("server failure err = %v, want a transient error", err)
	}
}

func TestRemoteRevoke(t *testing.T) {
	var status atomic.Int32
	var gotAuth atomic.Value
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	r, _ := NewRemote(srv.URL, "", srv.Client())
	s := &models.Session{AccessToken: "tok"}
	ctx := context.Background()

	if err := r.Revoke(ctx, s); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got, _ := gotAuth.Load().(string); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}

	status.Store(http.StatusUnauthorized)
	if err := r.Revoke(ctx, s); err != nil {
		t.Errorf("already revoked err = %v", err)
	}

	status.Store(http.StatusServiceUnavailable)
	if err := r.Revoke(ctx, s); err == nil {
		t.Error("expected error on server failure")
	}
	if err := r.Revoke(ctx, nil); err != nil {
		t.Errorf("nil session err = %v", err)
	}
}

func TestNewRemoteRejectsScheme(t *testing.T) {
	if _, err := NewRemote("ftp://auth.example.com", "", nil); err == nil {
		t.Error("ftp scheme accepted")
	}
}
