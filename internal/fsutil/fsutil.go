package fsutil

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrBadSegment marks a key element that is empty, "." or "..", or holds a
	// separator or NUL.
	ErrBadSegment = errors.New("invalid storage key segment")
	// ErrOutsideRoot marks a key that would resolve outside the document root.
	ErrOutsideRoot = errors.New("storage key outside document root")
)

// CleanKey takes a storage key like "", "/ip/1.2.3.4//x", "ip\\a" and returns
// a slash-based key with no leading slash ("" means the root).
func CleanKey(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// ValidSegment reports whether s can be used as a single element of a key:
// non-empty, no separators, no NUL, not "." or "..".
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// Key joins segments into a storage key, rejecting any segment that would
// change the shape of the tree.
func Key(segments ...string) (string, error) {
	for _, s := range segments {
		if !ValidSegment(s) {
			return "", ErrBadSegment
		}
	}
	return strings.Join(segments, "/"), nil
}

// JoinWithinRoot maps a storage key to an absolute path under rootAbs.
func JoinWithinRoot(rootAbs string, key string) (string, error) {
	key = CleanKey(key)
	if key == "" {
		return rootAbs, nil
	}
	if strings.Contains(key, "\x00") {
		return "", ErrBadSegment
	}
	abs := filepath.Clean(filepath.Join(rootAbs, filepath.FromSlash(key)))
	rootClean := filepath.Clean(rootAbs)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}
