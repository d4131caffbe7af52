// Package cache keeps query results in memory and keeps them consistent
// with local mutations and remote change notifications.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/skillnotes/internal/models"
)

// Fetcher loads the listing of one key. It runs detached from the
// reader's cancellation so its result still populates the cache.
type Fetcher func(ctx context.Context) ([]models.NoteArtifact, error)

// State is the freshness of a cache entry.
type State int

const (
	// Missing means no successful fetch has populated the entry.
	Missing State = iota
	Fresh
	// Stale entries are still served while a refresh runs in the background.
	Stale
	// Invalidated entries must be refetched before they are served.
	Invalidated
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Invalidated:
		return "invalidated"
	default:
		return "missing"
	}
}

type entry struct {
	items     []models.NoteArtifact
	has       bool
	fetchGen  uint64 // generation the items were fetched under
	fetchedAt time.Time
	gen       uint64 // latest invalidation of this entry
	inFlight  bool
	watchers  map[int]chan struct{}
}

type result struct {
	items []models.NoteArtifact
	gen   uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithStaleTime makes fresh entries stale after d. Zero, the default,
// means freshness only ends with an invalidation.
func WithStaleTime(d time.Duration) Option { return func(e *Engine) { e.staleTime = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// Engine is the read cache. At most one fetch per key is in flight at any
// time.
type Engine struct {
	staleTime time.Duration
	now       func() time.Time
	logger    *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[QueryKey]*entry
	gen     uint64 // engine-wide, so recreated entries never go back in time
	nextID  int
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[QueryKey]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Read returns the listing of key. A fresh entry is served from memory;
// otherwise the caller waits for a fetch that started no earlier than the
// latest invalidation it observed. Concurrent readers share one fetch.
func (c *Engine) Read(ctx context.Context, key QueryKey, fetch Fetcher) ([]models.NoteArtifact, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	switch c.stateLocked(e) {
	case Fresh:
		items := slices.Clone(e.items)
		c.mu.Unlock()
		return items, nil
	case Stale:
		items := slices.Clone(e.items)
		c.mu.Unlock()
		c.refresh(ctx, key, fetch)
		return items, nil
	}
	want := e.gen
	c.mu.Unlock()

	for {
		ch := c.group.DoChan(key.String(), c.fetchFunc(ctx, key, fetch))
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		r := res.Val.(result)
		if r.gen >= want {
			return slices.Clone(r.items), nil
		}
		// The joined fetch predates an invalidation this reader saw.
	}
}

// Invalidate marks key for refetch. It never blocks on fetches.
func (c *Engine) Invalidate(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.invalidateLocked(e)
	}
}

// InvalidateMatching invalidates every key for which match reports true
// and returns how many were affected.
func (c *Engine) InvalidateMatching(match func(QueryKey) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if match(k) {
			c.invalidateLocked(e)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("cache: invalidated", slog.Int("keys", n))
	}
	return n
}

// Peek returns the cached items of key and their state without fetching.
func (c *Engine) Peek(key QueryKey) ([]models.NoteArtifact, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, Missing
	}
	return slices.Clone(e.items), c.stateLocked(e)
}

// Keys returns the keys currently held.
func (c *Engine) Keys() []QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueryKey, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

// Watch subscribes to updates and invalidations of key. The channel
// coalesces notifications. Watched entries are never pruned; the returned
// func ends the subscription.
func (c *Engine) Watch(key QueryKey) (<-chan struct{}, func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	id := c.nextID
	c.nextID++
	ch := make(chan struct{}, 1)
	e.watchers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(e.watchers, id)
			c.mu.Unlock()
		})
	}
}

// Prune drops entries that cannot be served, are not being fetched and
// have no watchers. It returns the number removed.
func (c *Engine) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		st := c.stateLocked(e)
		if (st == Invalidated || st == Missing) && !e.inFlight && len(e.watchers) == 0 {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Engine) fetchFunc(ctx context.Context, key QueryKey, fetch Fetcher) func() (any, error) {
	detached := context.WithoutCancel(ctx)
	return func() (any, error) {
		c.mu.Lock()
		e := c.entryLocked(key)
		gen := e.gen
		e.inFlight = true
		c.mu.Unlock()

		items, err := fetch(detached)

		c.mu.Lock()
		defer c.mu.Unlock()
		e.inFlight = false
		if err != nil {
			c.logger.Debug("cache: fetch failed", slog.String("key", key.String()), slog.String("error", err.Error()))
			return nil, err
		}
		if gen >= e.fetchGen {
			e.items = items
			e.has = true
			e.fetchGen = gen
			e.fetchedAt = c.now()
			c.notifyLocked(e)
		}
		return result{items: items, gen: gen}, nil
	}
}

func (c *Engine) refresh(ctx context.Context, key QueryKey, fetch Fetcher) {
	// The result channel is buffered, so it is safe to leave unread.
	_ = c.group.DoChan(key.String(), c.fetchFunc(ctx, key, fetch))
}

func (c *Engine) entryLocked(key QueryKey) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{gen: c.gen, watchers: make(map[int]chan struct{})}
		c.entries[key] = e
	}
	return e
}

func (c *Engine) stateLocked(e *entry) State {
	switch {
	case !e.has:
		return Missing
	case e.fetchGen < e.gen:
		return Invalidated
	case c.staleTime > 0 && c.now().Sub(e.fetchedAt) >= c.staleTime:
		return Stale
	default:
		return Fresh
	}
}

func (c *Engine) invalidateLocked(e *entry) {
	c.gen++
	e.gen = c.gen
	c.notifyLocked(e)
}

func (c *Engine) notifyLocked(e *entry) {
	for _, ch := range e.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
