package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// SQL is a Store with direct table access to a SQLite database.
type SQL struct {
	conn *sql.DB
	now  func() time.Time
}

// Verify *SQL satisfies Store at compile time.
var _ Store = (*SQL)(nil)

// OpenSQL opens (or creates) the database at path and applies the schema.
func OpenSQL(path string) (*SQL, error) {
	conn, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return &SQL{conn: conn, now: time.Now}, nil
}

// Close closes the underlying connection.
func (s *SQL) Close() error {
	return s.conn.Close()
}

const noteColumns = `id, user_id, title, description, college, stream, branch,
	semester, subject, is_public, file_url, storage_key, checksum, created_at, updated_at`

// Insert assigns a ULID and the creation time.
func (s *SQL) Insert(ctx context.Context, rec Record) (models.NoteArtifact, error) {
	if rec.Owner == "" {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: insert without owner: %w", apperr.ErrForbidden)
	}
	now := s.now().UTC()
	n := models.NoteArtifact{
		ID:         ulid.Make().String(),
		OwnerID:    rec.Owner,
		NoteFields: rec.Fields,
		FileURL:    rec.FileURL,
		StorageKey: rec.StorageKey,
		Checksum:   rec.Checksum,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.conn.ExecContext(ctx, `INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Title, n.Description, n.College, n.Stream, n.Branch,
		n.Semester, n.Subject, n.IsPublic, n.FileURL, n.StorageKey, n.Checksum,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: insert: %v: %w", err, apperr.ErrRecordStore)
	}
	return n, nil
}

// Query lists one page in created_at DESC, id DESC order.
func (s *SQL) Query(ctx context.Context, q Query) (Page, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return Page{}, invalidQuery(err)
	}

	var (
		where []string
		args  []any
	)
	if q.Owner != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.Owner)
	}
	if q.PublicOnly {
		where = append(where, "is_public = 1")
	}
	if q.Subject != "" {
		where = append(where, "subject = ? COLLATE NOCASE")
		args = append(args, q.Subject)
	}
	if q.Cursor != "" {
		at, id, _ := ParseCursor(q.Cursor)
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, at.UnixNano(), at.UnixNano(), id)
	}

	stmt := `SELECT ` + noteColumns + ` FROM notes`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	// One extra row tells whether another page exists.
	args = append(args, q.Limit+1)

	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Page{}, fmt.Errorf("recordstore: query: %v: %w", err, apperr.ErrRecordStore)
	}
	defer rows.Close()

	items := make([]models.NoteArtifact, 0, q.Limit)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("recordstore: query rows: %v: %w", err, apperr.ErrRecordStore)
	}

	var page Page
	if len(items) > q.Limit {
		items = items[:q.Limit]
		page.NextCursor = Cursor(items[len(items)-1])
	}
	page.Items = items
	return page, nil
}

// Get returns one note.
func (s *SQL) Get(ctx context.Context, id string) (models.NoteArtifact, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: note %s: %w", id, apperr.ErrNotFound)
	}
	return n, err
}

// Delete removes id if owner owns it.
func (s *SQL) Delete(ctx context.Context, id, owner string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recordstore: begin tx: %v: %w", err, apperr.ErrRecordStore)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM notes WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("recordstore: delete %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("recordstore: delete %s: %v: %w", id, err, apperr.ErrRecordStore)
	}
	if current != owner {
		return fmt.Errorf("recordstore: delete %s: %w", id, apperr.ErrForbidden)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, owner); err != nil {
		return fmt.Errorf("recordstore: delete %s: %v: %w", id, err, apperr.ErrRecordStore)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recordstore: commit delete: %v: %w", err, apperr.ErrRecordStore)
	}
	return nil
}

// Update applies patch to id if owner owns it.
func (s *SQL) Update(ctx context.Context, id, owner string, patch models.NoteUpdate) (models.NoteArtifact, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: begin tx: %v: %w", err, apperr.ErrRecordStore)
	}
	defer tx.Rollback() //nolint:errcheck

	n, err := scanNote(tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: update %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.NoteArtifact{}, err
	}
	if n.OwnerID != owner {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: update %s: %w", id, apperr.ErrForbidden)
	}

	n = patch.Apply(n)
	n.UpdatedAt = s.now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE notes SET title = ?, description = ?, college = ?, stream = ?,
		branch = ?, semester = ?, subject = ?, is_public = ?, file_url = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		n.Title, n.Description, n.College, n.Stream, n.Branch, n.Semester, n.Subject,
		n.IsPublic, n.FileURL, n.UpdatedAt.UnixNano(), id, owner,
	)
	if err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: update %s: %v: %w", id, err, apperr.ErrRecordStore)
	}
	if err := tx.Commit(); err != nil {
		return models.NoteArtifact{}, fmt.Errorf("recordstore: commit update: %v: %w", err, apperr.ErrRecordStore)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(sc scanner) (models.NoteArtifact, error) {
	var (
		n                models.NoteArtifact
		created, updated int64
	)
	err := sc.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Description, &n.College, &n.Stream,
		&n.Branch, &n.Semester, &n.Subject, &n.IsPublic, &n.FileURL, &n.StorageKey,
		&n.Checksum, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return n, err
	}
	if err != nil {
		return n, fmt.Errorf("recordstore: scan: %v: %w", err, apperr.ErrRecordStore)
	}
	n.CreatedAt = time.Unix(0, created).UTC()
	n.UpdatedAt = time.Unix(0, updated).UTC()
	if err := check(n); err != nil {
		return n, err
	}
	return n, nil
}
