package push

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// FileWatch reports writes to a SQLite database made by any process. It
// cannot tell inserts from deletes, so every event is OpChange.
type FileWatch struct {
	dbPath   string
	debounce time.Duration
	logger   *slog.Logger
}

// NewFileWatch watches the database at dbPath and its journal files.
func NewFileWatch(dbPath string, debounce time.Duration, logger *slog.Logger) (*FileWatch, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("push: resolve db path: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &FileWatch{dbPath: abs, debounce: debounce, logger: logger}, nil
}

// Subscribe starts a watcher on the database directory. The directory
// must exist.
func (f *FileWatch) Subscribe(ctx context.Context, collection string) (<-chan Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("push: new watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.dbPath)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("push: watch %s: %w", filepath.Dir(f.dbPath), err)
	}
	watched := map[string]struct{}{
		f.dbPath:              {},
		f.dbPath + "-wal":     {},
		f.dbPath + "-journal": {},
	}

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		defer w.Close()
		f.logger.Info("push: filewatch started", slog.String("db", f.dbPath), slog.String("collection", collection))

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				f.logger.Info("push: filewatch stopped", slog.String("collection", collection))
				return

			case at := <-fire:
				fire = nil
				// Coalesce with an undelivered event.
				select {
				case out <- Event{Collection: collection, Op: OpChange, At: at}:
				default:
				}

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if _, ok := watched[filepath.Clean(ev.Name)]; !ok {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(f.debounce)
				} else {
					timer.Reset(f.debounce)
				}
				fire = timer.C

			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				f.logger.Error("push: filewatch error", slog.String("error", werr.Error()))
			}
		}
	}()
	return out, nil
}
