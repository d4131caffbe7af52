package objectstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const referenceAudience = "file"

// Signer issues and checks HS256 download tokens for locally stored objects.
type Signer struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewSigner creates a signer whose references point below baseURL.
func NewSigner(signingKey, baseURL string) (*Signer, error) {
	if signingKey == "" {
		return nil, errors.New("objectstore: signing key is required")
	}
	return &Signer{key: []byte(signingKey), baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Sign returns baseURL/files/<key>?token=<jwt>.
func (s *Signer) Sign(key string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := gojwt.RegisteredClaims{
		Subject:   key,
		Audience:  gojwt.ClaimStrings{referenceAudience},
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	}
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("objectstore: sign reference: %w", err)
	}
	return s.baseURL + "/files/" + escapeKey(key) + "?token=" + url.QueryEscape(tok), nil
}

// Verify checks that token grants access to key.
func (s *Signer) Verify(key, token string) error {
	claims := &gojwt.RegisteredClaims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithAudience(referenceAudience),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("objectstore: verify reference: %w", err)
	}
	if claims.Subject != key {
		return fmt.Errorf("objectstore: reference is for %q", claims.Subject)
	}
	return nil
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
