package push

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func next(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestFileWatchReportsWrites(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "notes.db")
	fw, err := NewFileWatch(db, 20*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := fw.Subscribe(ctx, "notes")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Unrelated files are ignored.
	_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}

	_ = os.WriteFile(db+"-wal", []byte("x"), 0o644)
	ev := next(t, ch, 5*time.Second)
	if ev.Collection != "notes" || ev.Op != OpChange {
		t.Errorf("event = %+v", ev)
	}

	cancel()
	for range ch {
	}
}

func TestNoneClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := None{}.Subscribe(ctx, "notes")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed")
	}
}

func TestWebSocketEventsAndResync(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var sub subscribeMessage
		if err := ws.ReadJSON(&sub); err != nil || sub.Type != "subscribe" || sub.Collection != "notes" {
			return
		}
		if conns.Add(1) == 1 {
			_ = ws.WriteJSON(changeMessage{Type: "other", Collection: "notes"})
			_ = ws.WriteJSON(changeMessage{Type: "INSERT", Collection: "profiles"})
			_ = ws.WriteJSON(changeMessage{Type: "INSERT", Collection: "notes", ID: "n1"})
			return // drop the connection
		}
		_ = ws.WriteJSON(changeMessage{Type: "delete", Collection: "notes", ID: "n1"})
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	settings := DefaultWebSocketSettings()
	settings.MinBackoff = 10 * time.Millisecond
	settings.MaxBackoff = 20 * time.Millisecond
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := NewWebSocket(url, staticToken("tok"), settings, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := c.Subscribe(ctx, "notes")

	if ev := next(t, ch, 5*time.Second); ev.Op != OpInsert || ev.ID != "n1" {
		t.Errorf("first event = %+v", ev)
	}
	if ev := next(t, ch, 5*time.Second); ev.Op != OpResync {
		t.Errorf("second event = %+v, want RESYNC", ev)
	}
	if ev := next(t, ch, 5*time.Second); ev.Op != OpDelete {
		t.Errorf("third event = %+v", ev)
	}
}

func TestNewWebSocketRejectsHTTP(t *testing.T) {
	if _, err := NewWebSocket("http://x", nil, DefaultWebSocketSettings(), quietLogger()); err == nil {
		t.Error("expected error for non-websocket url")
	}
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }
