// Package push delivers change notifications for record collections.
package push

import (
	"context"
	"time"
)

// Op is the kind of change an event reports.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	// OpChange is reported when a write happened but its kind is unknown.
	OpChange Op = "CHANGE"
	// OpResync is reported after a reconnect, when events may have been missed.
	OpResync Op = "RESYNC"
)

// Event says that a collection was mutated. ID is set only when the
// channel knows the affected record.
type Event struct {
	Collection string
	Op         Op
	ID         string
	At         time.Time
}

// Channel streams events for one collection until ctx is cancelled. The
// returned channel is closed when the subscription ends.
type Channel interface {
	Subscribe(ctx context.Context, collection string) (<-chan Event, error)
}

// None is a Channel that never fires.
type None struct{}

// Subscribe returns a stream that closes with ctx.
func (None) Subscribe(ctx context.Context, _ string) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
