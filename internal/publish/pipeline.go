// Package publish writes note artifacts across the object store and the
// record store and keeps the read cache in step with those writes.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/cache"
	"github.com/starford/skillnotes/internal/checksum"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/objectstore"
	"github.com/starford/skillnotes/internal/recordstore"
)

// DefaultReferenceTTL is the lifetime of minted download references.
const DefaultReferenceTTL = 365 * 24 * time.Hour

// Cache is the part of the read cache the pipeline uses.
type Cache interface {
	InvalidateMatching(match func(cache.QueryKey) bool) int
	Keys() []cache.QueryKey
	Peek(key cache.QueryKey) ([]models.NoteArtifact, cache.State)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxFileSize sets the upload size limit in bytes.
func WithMaxFileSize(n int64) Option { return func(p *Pipeline) { p.maxSize = n } }

// WithReferenceTTL sets the lifetime of minted references.
func WithReferenceTTL(d time.Duration) Option { return func(p *Pipeline) { p.ttl = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// Pipeline publishes and retracts notes.
type Pipeline struct {
	objects objectstore.Provider
	records recordstore.Store
	cache   Cache
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
	newKey  func(owner, name string) string
}

// New creates a pipeline.
func New(objects objectstore.Provider, records recordstore.Store, c Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		objects: objects,
		records: records,
		cache:   c,
		maxSize: DefaultMaxFileSize,
		ttl:     DefaultReferenceTTL,
		logger:  slog.Default(),
		newKey:  objectstore.NewKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxFileSize returns the upload size limit.
func (p *Pipeline) MaxFileSize() int64 { return p.maxSize }

// transaction tracks one publish. It never leaves Publish.
type transaction struct {
	key     string
	fileURL string
}

// Publish validates the input, writes the binary under the owner's
// namespace, mints a durable reference and commits the metadata. No phase
// is retried; a failure is reported as a *apperr.PhaseError naming the
// phase and any orphaned key. Earlier writes are not rolled back.
func (p *Pipeline) Publish(ctx context.Context, upload models.Upload, fields models.NoteFields, owner string) (models.NoteArtifact, error) {
	if owner == "" {
		return models.NoteArtifact{}, fmt.Errorf("publish: no owner: %w", apperr.ErrAuth)
	}
	if err := ValidateUpload(upload, p.maxSize); err != nil {
		return models.NoteArtifact{}, err
	}
	if err := ValidateFields(fields); err != nil {
		return models.NoteArtifact{}, err
	}

	tx := &transaction{key: p.newKey(owner, upload.Name)}
	log := p.logger.With(slog.String("owner", owner), slog.String("key", tx.key))

	contentType := upload.ContentType
	if contentType == "" {
		contentType = ContentType(upload.Name)
	}
	if err := p.objects.Put(ctx, tx.key, upload.Data, contentType); err != nil {
		log.Warn("publish: binary write failed", slog.String("error", err.Error()))
		return models.NoteArtifact{}, &apperr.PhaseError{Phase: apperr.PhaseBinaryWrite, Err: err}
	}

	ref, err := p.objects.MintReference(ctx, tx.key, p.ttl)
	if err != nil {
		log.Warn("publish: reference mint failed", slog.String("error", err.Error()))
		return models.NoteArtifact{}, &apperr.PhaseError{Phase: apperr.PhaseReferenceMint, Key: tx.key, Err: err}
	}
	tx.fileURL = ref

	n, err := p.records.Insert(ctx, recordstore.Record{
		Owner:      owner,
		Fields:     fields,
		FileURL:    tx.fileURL,
		StorageKey: tx.key,
		Checksum:   checksum.Sum(upload.Data),
	})
	if err != nil {
		log.Warn("publish: metadata commit failed", slog.String("error", err.Error()))
		return models.NoteArtifact{}, &apperr.PhaseError{Phase: apperr.PhaseMetadataCommit, Key: tx.key, Err: err}
	}

	invalidated := p.cache.InvalidateMatching(cache.Touching(n))
	log.Info("publish: committed", slog.String("id", n.ID), slog.Int("invalidated", invalidated))
	return n, nil
}

// Retract deletes id on behalf of owner. Ownership is enforced by the
// record store; a cached copy owned by someone else fails fast.
func (p *Pipeline) Retract(ctx context.Context, id, owner string) error {
	if owner == "" {
		return fmt.Errorf("retract: no owner: %w", apperr.ErrAuth)
	}
	if id == "" {
		return apperr.Invalid("id", "cannot be blank")
	}
	known, found := p.cached(id)
	if found && known.OwnerID != owner {
		return fmt.Errorf("retract: note %s belongs to another user: %w", id, apperr.ErrForbidden)
	}

	if err := p.records.Delete(ctx, id, owner); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrForbidden) || errors.Is(err, apperr.ErrRecordStore) {
			return fmt.Errorf("retract: %w", err)
		}
		return fmt.Errorf("retract: %v: %w", err, apperr.ErrRecordStore)
	}

	if !found {
		known = models.NoteArtifact{ID: id, OwnerID: owner}
	}
	invalidated := p.cache.InvalidateMatching(cache.Touching(known))
	p.logger.Info("publish: retracted", slog.String("id", id), slog.String("owner", owner), slog.Int("invalidated", invalidated))
	return nil
}

// Update applies patch to the note id owned by owner.
func (p *Pipeline) Update(ctx context.Context, id, owner string, patch models.NoteUpdate) (models.NoteArtifact, error) {
	if owner == "" {
		return models.NoteArtifact{}, fmt.Errorf("update: no owner: %w", apperr.ErrAuth)
	}
	if id == "" {
		return models.NoteArtifact{}, apperr.Invalid("id", "cannot be blank")
	}
	if err := ValidateUpdate(patch); err != nil {
		return models.NoteArtifact{}, err
	}
	if known, found := p.cached(id); found && known.OwnerID != owner {
		return models.NoteArtifact{}, fmt.Errorf("update: note %s belongs to another user: %w", id, apperr.ErrForbidden)
	}

	n, err := p.records.Update(ctx, id, owner, patch)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrForbidden) || errors.Is(err, apperr.ErrRecordStore) {
			return models.NoteArtifact{}, fmt.Errorf("update: %w", err)
		}
		return models.NoteArtifact{}, fmt.Errorf("update: %v: %w", err, apperr.ErrRecordStore)
	}

	invalidated := p.cache.InvalidateMatching(cache.Touching(n))
	p.logger.Info("publish: updated", slog.String("id", id), slog.String("owner", owner), slog.Int("invalidated", invalidated))
	return n, nil
}

// cached finds id in any cached listing, fresh or not.
func (p *Pipeline) cached(id string) (models.NoteArtifact, bool) {
	for _, k := range p.cache.Keys() {
		items, _ := p.cache.Peek(k)
		for _, n := range items {
			if n.ID == id {
				return n, true
			}
		}
	}
	return models.NoteArtifact{}, false
}
