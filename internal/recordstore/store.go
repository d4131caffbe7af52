// Package recordstore holds the structured metadata of published notes,
// either in a local SQLite table or behind a backend API.
package recordstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

const (
	// SortNewest orders by created_at descending with id descending as the
	// tie-break. It is the only sort contract.
	SortNewest = "created_at_desc"

	DefaultLimit = 50
	MaxLimit     = 50
)

// Store is the record half of a published note. Write authorization is
// enforced by the store itself.
type Store interface {
	Insert(ctx context.Context, rec Record) (models.NoteArtifact, error)
	Query(ctx context.Context, q Query) (Page, error)
	Get(ctx context.Context, id string) (models.NoteArtifact, error)
	// Delete removes id on behalf of owner: a missing id yields
	// apperr.ErrNotFound and a foreign owner apperr.ErrForbidden.
	Delete(ctx context.Context, id, owner string) error
	// Update applies patch to id on behalf of owner with the same errors
	// as Delete, and bumps updated_at.
	Update(ctx context.Context, id, owner string, patch models.NoteUpdate) (models.NoteArtifact, error)
	Close() error
}

// Record is a note ready to be committed.
type Record struct {
	Owner      string
	Fields     models.NoteFields
	FileURL    string
	StorageKey string
	Checksum   string
}

// Query selects notes of one collection. Owner restricts the listing to
// that user's notes, private ones included; PublicOnly restricts it to
// published public notes.
type Query struct {
	Collection string
	Owner      string
	Subject    string
	PublicOnly bool
	Sort       string
	Limit      int
	Cursor     string
}

// Normalize applies defaults and caps the limit.
func (q Query) Normalize() Query {
	if q.Collection == "" {
		q.Collection = models.CollectionNotes
	}
	if q.Sort == "" {
		q.Sort = SortNewest
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// Validate checks a normalized query.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Collection, validation.Required, validation.In(models.CollectionNotes)),
		validation.Field(&q.Sort, validation.In(SortNewest)),
		validation.Field(&q.Limit, validation.Min(1), validation.Max(MaxLimit)),
		validation.Field(&q.Cursor, validation.By(func(any) error {
			if q.Cursor == "" {
				return nil
			}
			_, _, err := ParseCursor(q.Cursor)
			return err
		})),
	)
}

// Page is one slice of a listing. NextCursor is empty on the last page.
type Page struct {
	Items      []models.NoteArtifact
	NextCursor string
}

// Cursor encodes the position after n.
func Cursor(n models.NoteArtifact) string {
	return n.CreatedAt.UTC().Format(time.RFC3339Nano) + "_" + n.ID
}

// ParseCursor decodes a "<rfc3339nano>_<id>" cursor.
func ParseCursor(c string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(c, "_")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("recordstore: malformed cursor %q", c)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("recordstore: malformed cursor time: %w", err)
	}
	return t, id, nil
}

func invalidQuery(err error) error {
	return fmt.Errorf("recordstore: invalid query: %v: %w", err, apperr.ErrValidation)
}
