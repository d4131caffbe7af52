package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/session"
)

const (
	refreshAudience = "refresh"
	refreshTTL      = 30 * 24 * time.Hour
)

// LocalUser is an account known to the local provider.
type LocalUser struct {
	ID           string
	Email        string
	PasswordHash string
}

// Local authenticates configured users and issues HS256 access and refresh
// tokens. Refresh tokens are single use. Revocations are held in memory, so
// they only bind the process that performed them.
type Local struct {
	key   []byte
	ttl   time.Duration
	now   func() time.Time
	users map[string]LocalUser

	mu            sync.Mutex
	consumed      map[string]struct{}
	revokedBefore map[string]time.Time
	watchers      map[chan session.Change]struct{}
}

// NewLocal creates a local provider. Users are matched by case-insensitive email.
func NewLocal(signingKey string, ttl time.Duration, users []LocalUser) (*Local, error) {
	if signingKey == "" {
		return nil, errors.New("identity: signing key is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	byEmail := make(map[string]LocalUser, len(users))
	for _, u := range users {
		if u.ID == "" || u.Email == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("identity: user %q is incomplete", u.Email)
		}
		byEmail[strings.ToLower(u.Email)] = u
	}
	return &Local{
		key:           []byte(signingKey),
		ttl:           ttl,
		now:           time.Now,
		users:         byEmail,
		consumed:      make(map[string]struct{}),
		revokedBefore: make(map[string]time.Time),
		watchers:      make(map[chan session.Change]struct{}),
	}, nil
}

// HashPassword returns a bcrypt hash suitable for LocalUser.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate checks the password and issues a new session.
func (l *Local) Authenticate(_ context.Context, email, password string) (*models.Session, error) {
	u, ok := l.users[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("identity: invalid login credentials: %w", apperr.ErrAuth)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("identity: invalid login credentials: %w", apperr.ErrAuth)
	}
	return l.issue(u.ID, u.Email)
}

// Refresh exchanges a refresh token for a new session and consumes it.
func (l *Local) Refresh(_ context.Context, refreshToken string) (*models.Session, error) {
	claims, err := l.parse(refreshToken, refreshAudience)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	_, used := l.consumed[claims.ID]
	cutoff, revoked := l.revokedBefore[claims.Subject]
	stale := revoked && claims.IssuedAt != nil && !claims.IssuedAt.After(cutoff)
	if !used && !stale {
		l.consumed[claims.ID] = struct{}{}
	}
	l.mu.Unlock()

	if used || stale {
		return nil, fmt.Errorf("identity: refresh token revoked: %w", apperr.ErrAuth)
	}
	return l.issue(claims.Subject, claims.Email)
}

// Revoke consumes the refresh token of s. Revoking an unknown or already
// revoked session succeeds.
func (l *Local) Revoke(_ context.Context, s *models.Session) error {
	if s == nil || s.RefreshToken == "" {
		return nil
	}
	claims, err := l.parse(s.RefreshToken, refreshAudience)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	l.consumed[claims.ID] = struct{}{}
	l.mu.Unlock()
	return nil
}

// RevokeUser invalidates every refresh token issued to userID so far and
// notifies watchers that the user's session is gone.
func (l *Local) RevokeUser(userID string) {
	now := l.now()
	change := session.Change{At: now, UserID: userID}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.revokedBefore[userID] = now
	for ch := range l.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Changes streams revocations until ctx is cancelled.
func (l *Local) Changes(ctx context.Context) (<-chan session.Change, error) {
	ch := make(chan session.Change, 8)
	l.mu.Lock()
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.watchers, ch)
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}

// Verify checks the signature, audience and expiry of an access token
// issued by this provider.
func (l *Local) Verify(token string) (*Claims, error) {
	return l.parse(token, Audience)
}

// Validate reports whether token is a live access token of this provider.
func (l *Local) Validate(token string) error {
	_, err := l.Verify(token)
	return err
}

func (l *Local) parse(token, audience string) (*Claims, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return l.key, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithAudience(audience),
		gojwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: verify: %v: %w", err, apperr.ErrAuth)
	}
	return claims, nil
}

func (l *Local) sign(userID, email, audience string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	jti, err := randomID()
	if err != nil {
		return "", nil, err
	}
	claims := &Claims{
		Email: email,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Audience:  gojwt.ClaimStrings{audience},
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(l.key)
	if err != nil {
		return "", nil, fmt.Errorf("identity: sign token: %w", err)
	}
	return tok, claims, nil
}

func (l *Local) issue(userID, email string) (*models.Session, error) {
	now := l.now()
	access, claims, err := l.sign(userID, email, Audience, now, l.ttl)
	if err != nil {
		return nil, err
	}
	refresh, _, err := l.sign(userID, email, refreshAudience, now, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    claims.ExpiresAt.Time,
		IssuedAt:     claims.IssuedAt.Time,
	}, nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("identity: random id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
