package objectstore

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
)

// Remote implements Provider against a Supabase-compatible storage API.
// Requests carry the bearer token of the signed-in user, so the server's
// per-owner policy applies to every write.
type Remote struct {
	base   *url.URL
	bucket string
	apiKey string
	tokens TokenSource
	client *http.Client
}

// NewRemote creates a client for bucket at baseURL.
func NewRemote(baseURL, bucket, apiKey string, tokens TokenSource, client *http.Client) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("objectstore: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("objectstore: unsupported scheme %q", u.Scheme)
	}
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Remote{base: u, bucket: bucket, apiKey: apiKey, tokens: tokens, client: client}, nil
}

// Put uploads data with upsert disabled.
func (r *Remote) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	req, err := r.request(ctx, http.MethodPost, "/storage/v1/object/"+r.bucket+"/"+escapeKey(key), bytes.NewReader(data))
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("objectstore: upload %s: %s", key, remoteError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type signRequest struct {
	ExpiresIn int64 `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// MintReference creates a signed URL valid for ttl.
func (r *Remote) MintReference(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	payload, err := json.Marshal(signRequest{ExpiresIn: int64(ttl / time.Second)})
	if err != nil {
		return "", err
	}
	req, err := r.request(ctx, http.MethodPost, "/storage/v1/object/sign/"+r.bucket+"/"+escapeKey(key), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("objectstore: sign %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("objectstore: sign %s: %s", key, remoteError(resp))
	}
	var sr signResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return "", fmt.Errorf("objectstore: decode sign response: %w", err)
	}
	if sr.SignedURL == "" {
		return "", fmt.Errorf("objectstore: sign %s: empty signed url", key)
	}
	if strings.HasPrefix(sr.SignedURL, "http://") || strings.HasPrefix(sr.SignedURL, "https://") {
		return sr.SignedURL, nil
	}
	return r.base.String() + "/storage/v1" + sr.SignedURL, nil
}

// Open downloads the object with the caller's credentials.
func (r *Remote) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := r.request(ctx, http.MethodGet, "/storage/v1/object/authenticated/"+r.bucket+"/"+escapeKey(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("objectstore: download %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrNotExist
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, fmt.Errorf("objectstore: download %s: %s", key, remoteError(resp))
	}
	return resp.Body, nil
}

func (r *Remote) request(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: build request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
	}
	if r.tokens != nil {
		tok, err := r.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("objectstore: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func remoteError(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)
}
