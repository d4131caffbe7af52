package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// TokenSource supplies the bearer token attached to API requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// API is a Store mediated by the notes backend. The backend derives the
// owner from the bearer token and enforces it on every write.
type API struct {
	base   *url.URL
	tokens TokenSource
	client *http.Client
}

// Verify *API satisfies Store at compile time.
var _ Store = (*API)(nil)

// NewAPI creates a client for the backend at baseURL.
func NewAPI(baseURL string, tokens TokenSource, client *http.Client) (*API, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("recordstore: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("recordstore: unsupported scheme %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{base: u, tokens: tokens, client: client}, nil
}

// Close is a no-op.
func (a *API) Close() error { return nil }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  *pageMeta       `json:"meta,omitempty"`
	Error *apiError       `json:"error,omitempty"`
}

type pageMeta struct {
	NextCursor string `json:"next_cursor"`
	HasNext    bool   `json:"has_next"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createNoteRequest struct {
	models.NoteFields
	FileURL    string `json:"file_url"`
	StorageKey string `json:"storage_key,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// Insert posts the record; the backend assigns id and owner.
func (a *API) Insert(ctx context.Context, rec Record) (models.NoteArtifact, error) {
	body, err := json.Marshal(createNoteRequest{
		NoteFields: rec.Fields,
		FileURL:    rec.FileURL,
		StorageKey: rec.StorageKey,
		Checksum:   rec.Checksum,
	})
	if err != nil {
		return models.NoteArtifact{}, err
	}
	env, err := a.do(ctx, http.MethodPost, "/notes", nil, body)
	if err != nil {
		return models.NoteArtifact{}, err
	}
	n, err := Decode(env.Data)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: insert: %w", err)
	}
	if rec.Owner != "" && n.OwnerID != rec.Owner {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: insert: backend assigned owner %s: %w", n.OwnerID, apperr.ErrForbidden)
	}
	return n, nil
}

// Query lists one page. Owner queries go to /notes/me, which the backend
// scopes to the caller.
func (a *API) Query(ctx context.Context, q Query) (Page, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return Page{}, invalidQuery(err)
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if q.Subject != "" {
		params.Set("subject", q.Subject)
	}
	path := "/notes"
	if q.Owner != "" {
		path = "/notes/me"
	}

	env, err := a.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return Page{}, err
	}
	items, err := DecodeList(env.Data)
	if err != nil {
		return Page{}, fmt.Errorf("recordstore: query: %w", err)
	}
	// The backend cannot be trusted to apply every filter.
	filtered := items[:0]
	for _, n := range items {
		if q.Owner != "" && n.OwnerID != q.Owner {
			continue
		}
		if q.PublicOnly && !n.IsPublic {
			continue
		}
		filtered = append(filtered, n)
	}
	page := Page{Items: filtered}
	if env.Meta != nil && env.Meta.HasNext {
		page.NextCursor = env.Meta.NextCursor
	}
	return page, nil
}

// Get reads one note.
func (a *API) Get(ctx context.Context, id string) (models.NoteArtifact, error) {
	env, err := a.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return models.NoteArtifact{}, err
	}
	n, err := Decode(env.Data)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: get: %w", err)
	}
	return n, nil
}

// Delete asks the backend to remove id; the backend checks ownership.
func (a *API) Delete(ctx context.Context, id, _ string) error {
	_, err := a.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil)
	return err
}

// Update sends the set fields of patch. The backend enforces ownership.
func (a *API) Update(ctx context.Context, id, _ string, patch models.NoteUpdate) (models.NoteArtifact, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return models.NoteArtifact{}, err
	}
	env, err := a.do(ctx, http.MethodPut, "/notes/"+url.PathEscape(id), nil, body)
	if err != nil {
		return models.NoteArtifact{}, err
	}
	n, err := Decode(env.Data)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: update: %w", err)
	}
	return n, nil
}

func (a *API) do(ctx context.Context, method, path string, q url.Values, body []byte) (*envelope, error) {
	u := *a.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("recordstore: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.tokens != nil {
		tok, err := a.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("recordstore: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recordstore: %s %s: %v: %w", method, path, err, apperr.ErrRecordStore)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("recordstore: read response: %v: %w", err, apperr.ErrRecordStore)
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("recordstore: decode envelope: %w", &apperr.DecodeError{Reason: err.Error()})
		}
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(method, path, resp.StatusCode, env.Error)
	}
	return &env, nil
}

func statusError(method, path string, status int, e *apiError) error {
	msg := http.StatusText(status)
	if e != nil && e.Message != "" {
		msg = e.Message
	}
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = apperr.ErrAuth
	case http.StatusForbidden:
		sentinel = apperr.ErrForbidden
	case http.StatusNotFound:
		sentinel = apperr.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = apperr.ErrValidation
	default:
		sentinel = apperr.ErrRecordStore
	}
	return fmt.Errorf("recordstore: %s %s: HTTP %d: %s: %w", method, path, status, msg, sentinel)
}
