// Package objectstore holds published note binaries and mints the durable
// references through which they are later downloaded.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider is the binary half of a published note.
type Provider interface {
	// Put writes data under key. Keys are never overwritten.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// MintReference returns a URI through which key can be read until ttl elapses.
	MintReference(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Open streams the object stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TokenSource supplies the bearer token attached to remote requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewKey returns a fresh key under the owner's namespace, keeping the
// extension of filename.
func NewKey(owner, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return owner + "/" + uuid.NewString() + ext
}

// Owner returns the namespace segment of key.
func Owner(key string) string {
	owner, _, _ := strings.Cut(key, "/")
	return owner
}

// ValidateKey rejects keys that are empty, absolute or escape their namespace.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("objectstore: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("objectstore: invalid key %q", key)
	}
	owner, rest, ok := strings.Cut(key, "/")
	if !ok || owner == "" || rest == "" {
		return fmt.Errorf("objectstore: key %q has no owner namespace", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("objectstore: invalid key %q", key)
		}
	}
	return nil
}
