// Package store holds the document tree. Keys are slash-separated paths
// relative to the tree root, e.g. "ip/10.0.0.7/bookworm/preseed.cfg".
package store

import (
	"context"
	"io/fs"
)

// ErrNotExist is returned (wrapped) by Read when a key has no object.
var ErrNotExist = fs.ErrNotExist

// Backend is the minimal storage surface the resolver needs.
type Backend interface {
	// Exists reports whether key names a readable document.
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces key with data, creating parent folders as needed.
	Write(ctx context.Context, key string, data []byte) error
}
