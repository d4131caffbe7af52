package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// Remote talks to a GoTrue-compatible authentication service.
type Remote struct {
	base   *url.URL
	apiKey string
	client *http.Client
	now    func() time.Time
}

// NewRemote creates a client for the service at baseURL.
func NewRemote(baseURL, apiKey string, client *http.Client) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("identity: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("identity: unsupported scheme %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{base: u, apiKey: apiKey, client: client, now: time.Now}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type authErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"msg"`
}

// Authenticate performs a password grant.
func (r *Remote) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	return r.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh performs a refresh_token grant.
func (r *Remote) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	return r.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// Revoke signs the session out on the server.
func (r *Remote) Revoke(ctx context.Context, s *models.Session) error {
	if s == nil {
		return nil
	}
	req, err := r.request(ctx, http.MethodPost, "/auth/v1/logout", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: logout: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	// An already invalid token means the server side session is gone.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("identity: logout: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (r *Remote) grant(ctx context.Context, grantType string, body map[string]string) (*models.Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	q := url.Values{"grant_type": []string{grantType}}
	req, err := r.request(ctx, http.MethodPost, "/auth/v1/token", q, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: %s grant: %w", grantType, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("identity: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e authErrorBody
		_ = json.Unmarshal(data, &e)
		msg := e.Description
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("identity: %s grant: HTTP %d: %s", grantType, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("identity: %s grant: %s: %w", grantType, msg, apperr.ErrAuth)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("identity: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("identity: empty access token: %w", apperr.ErrAuth)
	}
	return sessionFromToken(tr.AccessToken, tr.RefreshToken, time.Duration(tr.ExpiresIn)*time.Second, r.now())
}

func (r *Remote) request(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
	}
	return req, nil
}
