package credential

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/skillnotes/internal/models"
)

func sample() *models.Session {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &models.Session{
		UserID:       "u1",
		Email:        "u1@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     at,
		ExpiresAt:    at.Add(time.Hour),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credential.yaml")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	got, err := fs.Load()
	if err != nil || got != nil {
		t.Fatalf("empty Load = %+v, %v", got, err)
	}

	if err := fs.Save(sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	got, err = fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := sample()
	if got.UserID != want.UserID || got.AccessToken != want.AccessToken || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}

func TestFileStoreClear(t *testing.T) {
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "credential.yaml"))
	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	_ = fs.Save(sample())
	if err := fs.Save(nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	if got, _ := fs.Load(); got != nil {
		t.Errorf("Load after clear = %+v", got)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.yaml")
	if err := os.WriteFile(path, []byte("user_id: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(path)
	if _, err := fs.Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemoryStore()
	s := sample()
	_ = m.Save(s)
	s.AccessToken = "mutated"
	got, _ := m.Load()
	if got.AccessToken != "access" {
		t.Errorf("store aliased the caller's session: %q", got.AccessToken)
	}
}

func TestWatchReportsRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.yaml")
	fs, _ := NewFileStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Watch(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	if err := fs.Save(sample()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A buffered notification may still be pending.
			<-ch
		}
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
