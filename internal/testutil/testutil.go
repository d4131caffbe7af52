// Package testutil provides counting fakes of the external collaborators
// and a manual clock for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/push"
	"github.com/starford/skillnotes/internal/recordstore"
	"github.com/starford/skillnotes/internal/session"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestDB opens a temporary SQLite record store that is closed on cleanup.
func TestDB(t *testing.T) *recordstore.SQL {
	t.Helper()
	db, err := recordstore.OpenSQL(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// ObjectStore is an in-memory objectstore.Provider that counts calls.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	Puts    int
	Mints   int
	PutErr  error
	MintErr error
}

// NewObjectStore returns an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

func (s *ObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts++
	if s.PutErr != nil {
		return s.PutErr
	}
	if _, ok := s.objects[key]; ok {
		return fmt.Errorf("testutil: key %s exists", key)
	}
	s.objects[key] = bytes.Clone(data)
	return nil
}

func (s *ObjectStore) MintReference(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mints++
	if s.MintErr != nil {
		return "", s.MintErr
	}
	return fmt.Sprintf("mem://%s?ttl=%s", key, ttl), nil
}

func (s *ObjectStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("testutil: no object %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys returns the stored keys in order.
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Calls returns the put and mint counters.
func (s *ObjectStore) Calls() (puts, mints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Puts, s.Mints
}

// RecordStore is an in-memory recordstore.Store that counts calls.
type RecordStore struct {
	mu        sync.Mutex
	notes     []models.NoteArtifact
	seq       int
	now       func() time.Time
	Inserts   int
	Queries   int
	Deletes   int
	Updates   int
	InsertErr error
	QueryErr  error
	// QueryGate, when set, blocks every Query until it is closed.
	QueryGate chan struct{}
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &RecordStore{}
	r.now = func() time.Time { return base.Add(time.Duration(r.seq) * time.Second) }
	return r
}

func (r *RecordStore) Insert(_ context.Context, rec recordstore.Record) (models.NoteArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Inserts++
	if r.InsertErr != nil {
		return models.NoteArtifact{}, r.InsertErr
	}
	r.seq++
	n := models.NoteArtifact{
		ID:         fmt.Sprintf("note-%03d", r.seq),
		OwnerID:    rec.Owner,
		NoteFields: rec.Fields,
		FileURL:    rec.FileURL,
		StorageKey: rec.StorageKey,
		Checksum:   rec.Checksum,
		CreatedAt:  r.now(),
		UpdatedAt:  r.now(),
	}
	r.notes = append(r.notes, n)
	return n, nil
}

func (r *RecordStore) Query(ctx context.Context, q recordstore.Query) (recordstore.Page, error) {
	r.mu.Lock()
	r.Queries++
	gate := r.QueryGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return recordstore.Page{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.QueryErr != nil {
		return recordstore.Page{}, r.QueryErr
	}
	q = q.Normalize()
	var out []models.NoteArtifact
	for i := len(r.notes) - 1; i >= 0; i-- {
		n := r.notes[i]
		if q.Owner != "" && n.OwnerID != q.Owner {
			continue
		}
		if q.PublicOnly && !n.IsPublic {
			continue
		}
		if q.Subject != "" && n.Subject != q.Subject {
			continue
		}
		out = append(out, n)
		if len(out) == q.Limit {
			break
		}
	}
	return recordstore.Page{Items: out}, nil
}

func (r *RecordStore) Get(_ context.Context, id string) (models.NoteArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.ID == id {
			return n, nil
		}
	}
	return models.NoteArtifact{}, fmt.Errorf("testutil: %s: %w", id, apperr.ErrNotFound)
}

func (r *RecordStore) Delete(_ context.Context, id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deletes++
	for i, n := range r.notes {
		if n.ID != id {
			continue
		}
		if n.OwnerID != owner {
			return fmt.Errorf("testutil: %s: %w", id, apperr.ErrForbidden)
		}
		r.notes = append(r.notes[:i], r.notes[i+1:]...)
		return nil
	}
	return fmt.Errorf("testutil: %s: %w", id, apperr.ErrNotFound)
}

func (r *RecordStore) Update(_ context.Context, id, owner string, patch models.NoteUpdate) (models.NoteArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	for i, n := range r.notes {
		if n.ID != id {
			continue
		}
		if n.OwnerID != owner {
			return models.NoteArtifact{}, fmt.Errorf("testutil: %s: %w", id, apperr.ErrForbidden)
		}
		n = patch.Apply(n)
		n.UpdatedAt = r.now()
		r.notes[i] = n
		return n, nil
	}
	return models.NoteArtifact{}, fmt.Errorf("testutil: %s: %w", id, apperr.ErrNotFound)
}

func (r *RecordStore) Close() error { return nil }

// Calls returns the insert, query and delete counters.
func (r *RecordStore) Calls() (inserts, queries, deletes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Inserts, r.Queries, r.Deletes
}

// PushChannel is a push.Channel driven by Emit.
type PushChannel struct {
	mu   sync.Mutex
	subs map[chan push.Event]string
}

// NewPushChannel returns a channel with no subscribers.
func NewPushChannel() *PushChannel {
	return &PushChannel{subs: make(map[chan push.Event]string)}
}

func (p *PushChannel) Subscribe(ctx context.Context, collection string) (<-chan push.Event, error) {
	ch := make(chan push.Event, 16)
	p.mu.Lock()
	p.subs[ch] = collection
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, ch)
		close(ch)
		p.mu.Unlock()
	}()
	return ch, nil
}

// Emit delivers ev to every subscriber of its collection.
func (p *PushChannel) Emit(ev push.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch, c := range p.subs {
		if c == ev.Collection {
			ch <- ev
		}
	}
}

// Active returns the number of open subscriptions.
func (p *PushChannel) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Provider is a session.Provider issuing sessions from a manual clock.
type Provider struct {
	mu           sync.Mutex
	clock        *Clock
	ttl          time.Duration
	seq          int
	AuthErr      error
	RefreshErr   error
	RevokeErr    error
	Refreshes    int
	Revokes      int
	RefreshBlock chan struct{}
}

// NewProvider returns a provider whose sessions live for ttl.
func NewProvider(clock *Clock, ttl time.Duration) *Provider {
	return &Provider{clock: clock, ttl: ttl}
}

// Issue creates a session for userID without counting it as a call.
func (p *Provider) Issue(userID string) *models.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(userID)
}

func (p *Provider) issueLocked(userID string) *models.Session {
	p.seq++
	now := p.clock.Now()
	return &models.Session{
		UserID:       userID,
		Email:        userID + "@example.com",
		AccessToken:  fmt.Sprintf("access-%d", p.seq),
		RefreshToken: fmt.Sprintf("refresh-%s-%d", userID, p.seq),
		IssuedAt:     now,
		ExpiresAt:    now.Add(p.ttl),
	}
}

func (p *Provider) Authenticate(_ context.Context, email, password string) (*models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AuthErr != nil {
		return nil, p.AuthErr
	}
	if password != "secret" {
		return nil, fmt.Errorf("testutil: bad password: %w", apperr.ErrAuth)
	}
	user, _, _ := strings.Cut(email, "@")
	return p.issueLocked(user), nil
}

func (p *Provider) Refresh(_ context.Context, refreshToken string) (*models.Session, error) {
	p.mu.Lock()
	block := p.RefreshBlock
	p.Refreshes++
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefreshErr != nil {
		return nil, p.RefreshErr
	}
	rest, ok := strings.CutPrefix(refreshToken, "refresh-")
	i := strings.LastIndex(rest, "-")
	if !ok || i <= 0 {
		return nil, fmt.Errorf("testutil: bad refresh token: %w", apperr.ErrAuth)
	}
	return p.issueLocked(rest[:i]), nil
}

func (p *Provider) Revoke(context.Context, *models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Revokes++
	return p.RevokeErr
}

// Counts returns the refresh and revoke counters.
func (p *Provider) Counts() (refreshes, revokes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Refreshes, p.Revokes
}

// Clock is a manual session.Clock. Timers fire synchronously from Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

type timer struct {
	at      time.Time
	fn      func()
	stopped bool
	clock   *Clock
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) session.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{at: c.now.Add(d), fn: f, clock: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that came due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*timer
	keep := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
