package noteservice_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/cache"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/noteservice"
	"github.com/starford/skillnotes/internal/publish"
	"github.com/starford/skillnotes/internal/testutil"
)

type user string

func (u *user) UserID() (string, error) {
	if *u == "" {
		return "", fmt.Errorf("test: not signed in: %w", apperr.ErrAuth)
	}
	return string(*u), nil
}

type fixture struct {
	who     user
	records *testutil.RecordStore
	objects *testutil.ObjectStore
	svc     *noteservice.Service
}

func newFixture(t *testing.T, opts ...noteservice.Option) *fixture {
	t.Helper()
	f := &fixture{who: "u1", records: testutil.NewRecordStore(), objects: testutil.NewObjectStore()}
	c := cache.New(cache.WithLogger(testutil.Logger()))
	p := publish.New(f.objects, f.records, c, publish.WithLogger(testutil.Logger()))
	f.svc = noteservice.NewService(&f.who, f.records, c, p, opts...)
	return f
}

const markdown = `---
title: Sorting
description: Comparison sorts
college: NIT
stream: Engineering
branch: CSE
semester: 3
subject: DSA
---
# Sorting
Merge sort runs in O(n log n).
`

func (f *fixture) publish(t *testing.T, public bool) models.NoteArtifact {
	t.Helper()
	n, err := f.svc.Publish(context.Background(),
		models.Upload{Name: "sorting.md", Data: []byte(markdown)},
		models.NoteFields{IsPublic: public})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return n
}

func TestPublishFillsFromFrontmatter(t *testing.T) {
	f := newFixture(t)
	n := f.publish(t, true)
	if n.Title != "Sorting" || n.Semester != 3 || n.Subject != "DSA" || n.OwnerID != "u1" {
		t.Errorf("note = %+v", n)
	}
}

func TestListingsAreCachedUntilPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.ListNotes(ctx, "", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, queries, _ := f.records.Calls(); queries != 1 {
		t.Fatalf("queries = %d, want 1", queries)
	}

	n := f.publish(t, true)
	page, err := f.svc.ListNotes(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, queries, _ := f.records.Calls(); queries != 2 {
		t.Errorf("queries = %d, want one refetch", queries)
	}
	if len(page.Items) != 1 || page.Items[0].ID != n.ID {
		t.Errorf("items = %+v", page.Items)
	}
}

func TestSubjectFilterAndPrivacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, true)
	private := f.publish(t, false)

	page, _ := f.svc.ListNotes(ctx, " DSA ", "")
	if len(page.Items) != 1 {
		t.Errorf("public DSA notes = %d, want 1", len(page.Items))
	}
	page, _ = f.svc.ListNotes(ctx, "Physics", "")
	if len(page.Items) != 0 {
		t.Errorf("physics notes = %d", len(page.Items))
	}

	mine, _ := f.svc.ListMine(ctx, "")
	if len(mine.Items) != 2 {
		t.Errorf("my notes = %d, want 2", len(mine.Items))
	}

	if _, err := f.svc.GetNote(ctx, private.ID); err != nil {
		t.Errorf("owner GetNote: %v", err)
	}
	f.who = "u2"
	if _, err := f.svc.GetNote(ctx, private.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign private GetNote err = %v", err)
	}
}

func TestCursorPagesBypassCache(t *testing.T) {
	f := newFixture(t, noteservice.WithListLimit(1))
	ctx := context.Background()
	f.publish(t, true)
	f.publish(t, true)

	first, err := f.svc.ListNotes(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.NextCursor == "" {
		t.Fatal("full page without cursor")
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.ListNotes(ctx, "", first.NextCursor); err != nil {
			t.Fatal(err)
		}
	}
	if _, queries, _ := f.records.Calls(); queries != 3 {
		t.Errorf("queries = %d, want 3", queries)
	}
}

func TestSignedOutUserCannotWrite(t *testing.T) {
	f := newFixture(t)
	f.who = ""
	ctx := context.Background()

	if _, err := f.svc.ListMine(ctx, ""); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("ListMine err = %v", err)
	}
	_, err := f.svc.Publish(ctx, models.Upload{Name: "a.md", Data: []byte(markdown)}, models.NoteFields{})
	if !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("Publish err = %v", err)
	}
	if err := f.svc.Retract(ctx, "note-001"); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("Retract err = %v", err)
	}
	title := "x"
	if _, err := f.svc.Update(ctx, "note-001", models.NoteUpdate{Title: &title}); !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("Update err = %v", err)
	}
	if puts, _ := f.objects.Calls(); puts != 0 {
		t.Errorf("puts = %d", puts)
	}
}

func TestRetractRefreshesMyNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.publish(t, true)
	if mine, _ := f.svc.ListMine(ctx, ""); len(mine.Items) != 1 {
		t.Fatalf("my notes = %d", len(mine.Items))
	}
	if err := f.svc.Retract(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if mine, _ := f.svc.ListMine(ctx, ""); len(mine.Items) != 0 {
		t.Errorf("retracted note still listed")
	}
}

func TestUpdateRefreshesMyNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.publish(t, true)
	if mine, _ := f.svc.ListMine(ctx, ""); len(mine.Items) != 1 {
		t.Fatalf("my notes = %d", len(mine.Items))
	}
	private := false
	if _, err := f.svc.Update(ctx, n.ID, models.NoteUpdate{IsPublic: &private}); err != nil {
		t.Fatal(err)
	}
	mine, _ := f.svc.ListMine(ctx, "")
	if len(mine.Items) != 1 || mine.Items[0].IsPublic {
		t.Errorf("my notes after update = %+v", mine.Items)
	}
}
