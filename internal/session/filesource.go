package session

import (
	"context"
	"log/slog"

	"github.com/starford/skillnotes/internal/credential"
)

// FileSource mirrors credential file changes made by other processes of the
// same user, such as a CLI login while the server is running.
type FileSource struct {
	store  *credential.FileStore
	clock  Clock
	logger *slog.Logger
}

// NewFileSource watches the file behind store.
func NewFileSource(store *credential.FileStore, logger *slog.Logger) *FileSource {
	return &FileSource{store: store, clock: realClock{}, logger: logger}
}

// Changes implements ChangeSource. A stored session is stamped with its
// issue time so that stale rewrites lose against newer local changes; a
// removed file is stamped with the time it was observed.
func (f *FileSource) Changes(ctx context.Context) (<-chan Change, error) {
	notify, err := credential.Watch(ctx, f.store.Path(), f.logger)
	if err != nil {
		return nil, err
	}
	out := make(chan Change)
	go func() {
		defer close(out)
		for range notify {
			s, err := f.store.Load()
			if err != nil {
				f.logger.Warn("session: reload credential failed", slog.String("error", err.Error()))
				continue
			}
			change := Change{Session: s, At: f.clock.Now()}
			if s != nil {
				change.At = s.IssuedAt
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
