package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/skillnotes/internal/push"
)

// collect reads n messages from ch, or what arrived within a second.
func collect(ch chan []byte, n int) []string {
	var out []string
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-timeout:
			return out
		}
	}
	return out
}

func TestJoinLeave(t *testing.T) {
	b := NewBroker(100*time.Millisecond, 0)
	defer b.Close()

	ch := b.Subscribe()
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after leave", n)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed on leave")
	}
}

func TestChangeWithThrottledRefresh(t *testing.T) {
	b := NewBroker(time.Minute, 0)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(push.Event{Collection: "notes", Op: push.OpInsert, ID: "n1"})
	b.PublishChange(push.Event{Collection: "notes", Op: push.OpDelete, ID: "n2"})

	var changes, refreshes int
	// A second refresh would arrive within the same window.
	for _, msg := range collect(ch, 4) {
		switch {
		case strings.HasPrefix(msg, "event: "+TypeChanged):
			changes++
			if changes == 1 && !strings.Contains(msg, `"op":"INSERT","id":"n1"`) {
				t.Errorf("first change = %q", msg)
			}
		case strings.HasPrefix(msg, "event: "+TypeRefresh):
			refreshes++
		}
	}
	if changes != 2 || refreshes != 1 {
		t.Errorf("changes = %d refreshes = %d, want 2 and 1", changes, refreshes)
	}
}

func TestPublishSession(t *testing.T) {
	b := NewBroker(time.Second, 0)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishSession("anonymous")
	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), `"state":"anonymous"`) {
			t.Errorf("msg = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no session event")
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Second, 0)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+10; i++ {
		b.Publish(Event{Type: "x", Data: i})
	}
	for len(b.publishCh) > 0 {
		time.Sleep(time.Millisecond)
	}
	// The loop answers only between broadcasts.
	b.ClientCount()
	if got := len(ch); got != clientBuffer {
		t.Errorf("buffered = %d, want %d", got, clientBuffer)
	}
}

// lockedRecorder guards the body against the handler goroutine.
type lockedRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (l *lockedRecorder) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ResponseRecorder.Write(p)
}

func (l *lockedRecorder) body() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Body.String()
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(time.Second, 20*time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := &lockedRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.PublishChange(push.Event{Collection: "notes", Op: push.OpChange})

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(w.body(), ": ping") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := w.body()
	for _, want := range []string{"retry: 3000", "event: " + TypeChanged, "event: " + TypeRefresh, ": ping"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %q", want, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients = %d after disconnect", n)
	}
}

func TestCloseEndsStreams(t *testing.T) {
	b := NewBroker(time.Second, 0)
	ch := b.Subscribe()
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel still open")
	}
	if b.ClientCount() != 0 {
		t.Error("clients after close")
	}
	b.Publish(Event{Type: "x"})
	b.PublishChange(push.Event{})
	if _, ok := <-b.Subscribe(); ok {
		t.Error("subscribe after close returned an open channel")
	}
}
