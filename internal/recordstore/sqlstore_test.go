package recordstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

func testDB(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQL(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(owner, title, subject string, public bool) Record {
	return Record{
		Owner: owner,
		Fields: models.NoteFields{
			Title:    title,
			College:  "IIT",
			Stream:   "Engineering",
			Branch:   "Mechanical",
			Semester: 3,
			Subject:  subject,
			IsPublic: public,
		},
		FileURL:    "http://localhost/files/" + owner + "/x.pdf",
		StorageKey: owner + "/x.pdf",
	}
}

func TestInsertAndGet(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	n, err := s.Insert(ctx, record("u1", "Thermo Notes", "Thermodynamics", true))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n.ID == "" || n.OwnerID != "u1" || n.CreatedAt.IsZero() {
		t.Fatalf("unexpected artifact: %+v", n)
	}
	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Thermo Notes" || got.Semester != 3 || !got.IsPublic {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, n.CreatedAt)
	}
}

func TestGetMissing(t *testing.T) {
	s := testDB(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryOrderAndFilters(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	a, _ := s.Insert(ctx, record("u1", "A", "Physics", true))
	b, _ := s.Insert(ctx, record("u2", "B", "Chemistry", true))
	c, _ := s.Insert(ctx, record("u1", "C", "physics", false))

	all, err := s.Query(ctx, Query{PublicOnly: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ids(all.Items) != ids([]models.NoteArtifact{b, a}) {
		t.Errorf("public = %v", ids(all.Items))
	}

	mine, _ := s.Query(ctx, Query{Owner: "u1"})
	if ids(mine.Items) != ids([]models.NoteArtifact{c, a}) {
		t.Errorf("mine = %v", ids(mine.Items))
	}

	phys, _ := s.Query(ctx, Query{Subject: "PHYSICS"})
	if len(phys.Items) != 2 {
		t.Errorf("subject filter returned %d, want 2", len(phys.Items))
	}
}

func TestQueryTieBreakByID(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var inserted []models.NoteArtifact
	for i := 0; i < 3; i++ {
		n, err := s.Insert(ctx, record("u1", "same time", "Maths", true))
		if err != nil {
			t.Fatal(err)
		}
		inserted = append(inserted, n)
	}
	page, _ := s.Query(ctx, Query{})
	for i := 1; i < len(page.Items); i++ {
		if page.Items[i-1].ID < page.Items[i].ID {
			t.Errorf("ids not descending: %v", ids(page.Items))
		}
	}
	if len(page.Items) != len(inserted) {
		t.Errorf("len = %d", len(page.Items))
	}
}

func TestQueryPaging(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }
	for i := 0; i < 5; i++ {
		_, _ = s.Insert(ctx, record("u1", "n", "Maths", true))
	}

	first, err := s.Query(ctx, Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %d items, cursor %q", len(first.Items), first.NextCursor)
	}
	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		p, err := s.Query(ctx, Query{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		for _, n := range p.Items {
			if seen[n.ID] {
				t.Fatalf("duplicate %s across pages", n.ID)
			}
			seen[n.ID] = true
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	if len(seen) != 5 {
		t.Errorf("paged through %d notes, want 5", len(seen))
	}
}

func TestQueryLimitCapped(t *testing.T) {
	q := Query{Limit: 500}.Normalize()
	if q.Limit != MaxLimit {
		t.Errorf("limit = %d", q.Limit)
	}
	if err := (Query{Cursor: "garbage"}).Normalize().Validate(); err == nil {
		t.Error("expected malformed cursor to fail validation")
	}
}

func TestDeleteOwnership(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	n, _ := s.Insert(ctx, record("u1", "A", "Physics", true))

	if err := s.Delete(ctx, n.ID, "u2"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign delete err = %v, want ErrForbidden", err)
	}
	if err := s.Delete(ctx, n.ID, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, n.ID, "u1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	page, _ := s.Query(ctx, Query{})
	if len(page.Items) != 0 {
		t.Errorf("deleted note still listed")
	}
}

func TestUpdateOwnershipAndPatch(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return created }
	n, _ := s.Insert(ctx, record("u1", "A", "Physics", true))

	title, private := "Optics", false
	patch := models.NoteUpdate{Title: &title, IsPublic: &private}
	if _, err := s.Update(ctx, n.ID, "u2", patch); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign update err = %v, want ErrForbidden", err)
	}
	if _, err := s.Update(ctx, "missing", "u1", patch); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing update err = %v, want ErrNotFound", err)
	}

	s.now = func() time.Time { return created.Add(time.Hour) }
	got, err := s.Update(ctx, n.ID, "u1", patch)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ID != n.ID || got.Title != "Optics" || got.IsPublic || got.Subject != "Physics" {
		t.Errorf("updated = %+v", got)
	}
	stored, _ := s.Get(ctx, n.ID)
	if stored.Title != "Optics" || !stored.UpdatedAt.Equal(created.Add(time.Hour)) || !stored.CreatedAt.Equal(created) {
		t.Errorf("stored = %+v", stored)
	}
}

func ids(items []models.NoteArtifact) string {
	out := ""
	for _, n := range items {
		out += n.ID + ","
	}
	return out
}
