// Package credential persists the current authentication session between
// process runs.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/skillnotes/internal/models"
)

// Store holds at most one persisted session.
type Store interface {
	// Load returns the persisted session, or nil when none is stored.
	Load() (*models.Session, error)
	// Save replaces the persisted session.
	Save(s *models.Session) error
	// Clear removes the persisted session. Clearing an empty store is not an error.
	Clear() error
}

// FileStore keeps the session in a YAML file readable only by the owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credential: resolve path: %w", err)
	}
	return &FileStore{path: abs}, nil
}

// Path returns the absolute file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the session file.
func (f *FileStore) Load() (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: read: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var s models.Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("credential: parse %s: %w", f.path, err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save atomically writes the session: tmp file, fsync, rename.
func (f *FileStore) Save(s *models.Session) error {
	if s == nil {
		return f.Clear()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("credential: encode: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-tmp-*")
	if err != nil {
		return fmt.Errorf("credential: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("credential: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("credential: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("credential: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("credential: rename: %w", err)
	}
	success = true
	return nil
}

// Clear deletes the session file.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *models.Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone(), nil
}

func (m *MemoryStore) Save(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
