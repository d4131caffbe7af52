package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotExist is returned by Open for unknown keys.
var ErrNotExist = errors.New("objectstore: object does not exist")

// FS implements Provider on the local file system. References are signed
// by a Signer and served by the web surface.
type FS struct {
	root   string // absolute path to the object directory
	signer *Signer
}

// NewFS creates an FS rooted at root, creating the directory when missing.
func NewFS(root string, signer *Signer) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("objectstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("objectstore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("objectstore: root is not a directory: %s", abs)
	}
	if signer == nil {
		return nil, errors.New("objectstore: signer is required")
	}
	return &FS{root: abs, signer: signer}, nil
}

// safePath resolves key against the root and rejects any result outside it.
func (f *FS) safePath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(f.root, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("objectstore: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("objectstore: key escapes root: %s", key)
	}
	return abs, nil
}

// Put atomically writes data: tmp file, fsync, link into place. An
// existing key is left untouched and reported as an error.
func (f *FS) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("objectstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".skillnotes-tmp-*")
	if err != nil {
		return fmt.Errorf("objectstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("objectstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("objectstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objectstore: close temp: %w", err)
	}
	// Link fails when the target exists, so keys are write-once.
	if err := os.Link(tmpName, abs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("objectstore: key %s already exists", key)
		}
		return fmt.Errorf("objectstore: link: %w", err)
	}
	return nil
}

// MintReference signs a download URL for an existing key.
func (f *FS) MintReference(_ context.Context, key string, ttl time.Duration) (string, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotExist
		}
		return "", fmt.Errorf("objectstore: stat %s: %w", key, err)
	}
	return f.signer.Sign(key, ttl)
}

// Open returns the stored object.
func (f *FS) Open(_ context.Context, key string) (io.ReadCloser, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("objectstore: open %s: %w", key, err)
	}
	return fh, nil
}

// Verify checks a download token minted for key.
func (f *FS) Verify(key, token string) error { return f.signer.Verify(key, token) }
