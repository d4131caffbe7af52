// Package listener turns push channel events into cache invalidations.
package listener

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/skillnotes/internal/cache"
	"github.com/starford/skillnotes/internal/push"
)

// Invalidator is the part of the cache the listener drives.
type Invalidator interface {
	InvalidateMatching(match func(cache.QueryKey) bool) int
}

// Listener subscribes to collections on a push channel.
type Listener struct {
	channel push.Channel
	cache   Invalidator
	logger  *slog.Logger
}

// New creates a listener.
func New(channel push.Channel, c Invalidator, logger *slog.Logger) *Listener {
	return &Listener{channel: channel, cache: c, logger: logger}
}

// Handle is one live subscription. Close must be called on every exit path.
type Handle struct {
	collection string
	cancel     context.CancelFunc
	done       chan struct{}

	mu        sync.Mutex
	callbacks map[int]func(push.Event)
	nextID    int
	closeOnce sync.Once
}

// Subscribe opens the channel for collection. Every event invalidates all
// cached keys of that collection before callbacks run. The subscription
// ends when Close is called or ctx is cancelled.
func (l *Listener) Subscribe(ctx context.Context, collection string) (*Handle, error) {
	subCtx, cancel := context.WithCancel(ctx)
	events, err := l.channel.Subscribe(subCtx, collection)
	if err != nil {
		cancel()
		return nil, err
	}
	h := &Handle{
		collection: collection,
		cancel:     cancel,
		done:       make(chan struct{}),
		callbacks:  make(map[int]func(push.Event)),
	}
	l.logger.Info("listener: subscribed", slog.String("collection", collection))

	go func() {
		defer close(h.done)
		for ev := range events {
			n := l.cache.InvalidateMatching(cache.InCollection(collection))
			l.logger.Debug("listener: change",
				slog.String("collection", collection),
				slog.String("op", string(ev.Op)),
				slog.Int("invalidated", n))
			for _, fn := range h.snapshot() {
				fn(ev)
			}
		}
		l.logger.Info("listener: unsubscribed", slog.String("collection", collection))
	}()
	return h, nil
}

// On registers fn for every event of h and returns a func removing it.
func (h *Handle) On(fn func(push.Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.callbacks[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.callbacks, id)
		h.mu.Unlock()
	}
}

// Collection returns the subscribed collection.
func (h *Handle) Collection() string { return h.collection }

// Done is closed once the subscription has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close releases the channel and waits for the event loop to exit. It is
// idempotent and must not be called from a callback.
func (h *Handle) Close() {
	h.closeOnce.Do(h.cancel)
	<-h.done
}

func (h *Handle) snapshot() []func(push.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(push.Event), 0, len(h.callbacks))
	for _, fn := range h.callbacks {
		out = append(out, fn)
	}
	return out
}
