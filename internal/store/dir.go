package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio"
	"github.com/samber/oops"

	"preseedd/internal/fsutil"
)

// Dir stores documents as plain files under a root directory.
type Dir struct {
	root string
}

// NewDir opens (and creates if needed) a tree rooted at root.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, oops.Wrapf(err, "abs root %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, oops.Wrapf(err, "mkdir root %s", abs)
	}
	return &Dir{root: abs}, nil
}

// Root is the absolute directory backing the tree.
func (d *Dir) Root() string { return d.root }

func (d *Dir) path(key string) (string, error) {
	p, err := fsutil.JoinWithinRoot(d.root, key)
	if err != nil {
		return "", oops.Wrapf(err, "key %q", key)
	}
	return p, nil
}

// Exists reports whether key is a regular file. A plain file where a folder
// is expected (ENOTDIR) counts as absent.
func (d *Dir) Exists(_ context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, oops.Wrapf(err, "stat %s", key)
	}
	return st.Mode().IsRegular(), nil
}

func (d *Dir) Read(_ context.Context, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, oops.Wrapf(err, "read %s", key)
	}
	return b, nil
}

// Write replaces the file atomically (temp file + rename) so readers never
// see a torn document.
func (d *Dir) Write(_ context.Context, key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if p == d.root {
		return oops.Errorf("write: empty key")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return oops.Wrapf(err, "mkdir %s", filepath.Dir(key))
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return oops.Wrapf(err, "write %s", key)
	}
	return nil
}
