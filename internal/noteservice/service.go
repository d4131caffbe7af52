// Package noteservice is the application facade shared by the web, CLI and
// MCP surfaces. It resolves the signed-in user and routes reads through the
// cache and writes through the publication pipeline.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/cache"
	"github.com/starford/skillnotes/internal/frontmatter"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/publish"
	"github.com/starford/skillnotes/internal/recordstore"
)

// Identity resolves the signed-in user.
type Identity interface {
	UserID() (string, error)
}

// Reader is the read side of the cache.
type Reader interface {
	Read(ctx context.Context, key cache.QueryKey, fetch cache.Fetcher) ([]models.NoteArtifact, error)
}

// Service coordinates the session, the cache, the record store and the
// publication pipeline.
type Service struct {
	identity Identity
	records  recordstore.Store
	cache    Reader
	pipeline *publish.Pipeline
	limit    int
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithListLimit sets the page size of listings.
func WithListLimit(n int) Option { return func(s *Service) { s.limit = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a new note service.
func NewService(identity Identity, records recordstore.Store, c Reader, pipeline *publish.Pipeline, opts ...Option) *Service {
	s := &Service{
		identity: identity,
		records:  records,
		cache:    c,
		pipeline: pipeline,
		limit:    recordstore.DefaultLimit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limit = recordstore.Query{Limit: s.limit}.Normalize().Limit
	return s
}

// ListNotes returns one page of public notes, optionally by subject.
func (s *Service) ListNotes(ctx context.Context, subject, cursor string) (recordstore.Page, error) {
	key := cache.AllNotes(strings.TrimSpace(subject))
	return s.list(ctx, key, cursor)
}

// ListMine returns one page of the signed-in user's notes, private ones
// included.
func (s *Service) ListMine(ctx context.Context, cursor string) (recordstore.Page, error) {
	owner, err := s.identity.UserID()
	if err != nil {
		return recordstore.Page{}, err
	}
	return s.list(ctx, cache.MyNotes(owner), cursor)
}

// GetNote reads a single note. Private notes of other users are not found.
func (s *Service) GetNote(ctx context.Context, id string) (models.NoteArtifact, error) {
	n, err := s.records.Get(ctx, id)
	if err != nil {
		return models.NoteArtifact{}, err
	}
	if !n.IsPublic {
		if owner, _ := s.identity.UserID(); owner != n.OwnerID {
			return models.NoteArtifact{}, fmt.Errorf("noteservice: note %s: %w", id, apperr.ErrNotFound)
		}
	}
	return n, nil
}

// Publish completes fields from a Markdown upload's frontmatter and
// publishes the upload as the signed-in user.
func (s *Service) Publish(ctx context.Context, upload models.Upload, fields models.NoteFields) (models.NoteArtifact, error) {
	owner, err := s.identity.UserID()
	if err != nil {
		return models.NoteArtifact{}, err
	}
	fields = frontmatter.Fill(fields, upload)
	return s.pipeline.Publish(ctx, upload, fields, owner)
}

// Retract deletes one of the signed-in user's notes.
func (s *Service) Retract(ctx context.Context, id string) error {
	owner, err := s.identity.UserID()
	if err != nil {
		return err
	}
	return s.pipeline.Retract(ctx, id, owner)
}

// Update changes the set fields of one of the signed-in user's notes.
func (s *Service) Update(ctx context.Context, id string, patch models.NoteUpdate) (models.NoteArtifact, error) {
	owner, err := s.identity.UserID()
	if err != nil {
		return models.NoteArtifact{}, err
	}
	return s.pipeline.Update(ctx, id, owner, patch)
}

// MaxFileSize returns the upload size limit.
func (s *Service) MaxFileSize() int64 { return s.pipeline.MaxFileSize() }

// list serves the first page of key from the cache. Later pages are
// read straight from the record store.
func (s *Service) list(ctx context.Context, key cache.QueryKey, cursor string) (recordstore.Page, error) {
	key.Sort = recordstore.SortNewest
	key.Limit = s.limit
	q := recordstore.Query{
		Collection: key.Collection,
		Owner:      key.Owner,
		Subject:    key.Subject,
		PublicOnly: key.PublicOnly,
		Sort:       key.Sort,
		Limit:      key.Limit,
		Cursor:     cursor,
	}
	if cursor != "" {
		return s.records.Query(ctx, q)
	}

	items, err := s.cache.Read(ctx, key, func(ctx context.Context) ([]models.NoteArtifact, error) {
		page, err := s.records.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		return page.Items, nil
	})
	if err != nil {
		return recordstore.Page{}, err
	}
	page := recordstore.Page{Items: items}
	if len(items) == s.limit {
		page.NextCursor = recordstore.Cursor(items[len(items)-1])
	}
	return page, nil
}
