package preseed

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"preseedd/internal/fsutil"
	"preseedd/internal/series"
	"preseedd/internal/sharecode"
	"preseedd/internal/store"
)

const (
	PreseedFile     = "preseed.cfg"
	LateCommandFile = "late_command"

	clientDir = "ip"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrRead        = errors.New("document read failed")
	ErrPartialPair = errors.New("partial document pair")
	ErrBadClient   = errors.New("invalid client address")
)

// Lookup identifies the document a request wants.
type Lookup struct {
	RemoteAddr string
	Filename   string
	Series     string
	ShareCode  string
}

// scope is what the candidate generators see once a Lookup is decoded.
type scope struct {
	remote   string
	shared   string
	series   string
	seriesOK bool
	file     string
}

type candidate func(sc scope) (segments []string, ok bool)

// chain is the fallback order, most specific first.
var chain = []candidate{
	func(sc scope) ([]string, bool) {
		return []string{clientDir, sc.shared, sc.series, sc.file}, sc.seriesOK && sc.shared != ""
	},
	func(sc scope) ([]string, bool) {
		return []string{clientDir, sc.shared, sc.file}, sc.seriesOK && sc.shared != ""
	},
	func(sc scope) ([]string, bool) {
		return []string{clientDir, sc.remote, sc.series, sc.file}, sc.seriesOK
	},
	func(sc scope) ([]string, bool) {
		return []string{clientDir, sc.shared, sc.file}, sc.shared != ""
	},
	func(sc scope) ([]string, bool) {
		return []string{clientDir, sc.remote, sc.file}, true
	},
}

// Resolver maps a Lookup to a key in the tree.
type Resolver struct {
	backend store.Backend
	series  series.Set
}

func NewResolver(backend store.Backend, supported series.Set) *Resolver {
	return &Resolver{backend: backend, series: supported}
}

// Candidates lists the keys Resolve would try, in order and without
// duplicates. The global default is always last.
func (r *Resolver) Candidates(l Lookup) []string {
	if l.ShareCode == series.Default || l.Series == series.Default {
		return []string{l.Filename}
	}
	shared, _ := sharecode.Decode(l.ShareCode)
	sc := scope{
		remote:   l.RemoteAddr,
		shared:   shared,
		series:   l.Series,
		seriesOK: r.series.Contains(l.Series),
		file:     l.Filename,
	}
	seen := make(map[string]bool, len(chain)+1)
	out := make([]string, 0, len(chain)+1)
	for _, gen := range chain {
		segs, ok := gen(sc)
		if !ok {
			continue
		}
		key, err := fsutil.Key(segs...)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return append(out, l.Filename)
}

// Resolve returns the first candidate that exists, or the global default.
// The default is returned without checking; reading it reports a missing
// deployment file.
func (r *Resolver) Resolve(ctx context.Context, l Lookup) (string, error) {
	if !fsutil.ValidSegment(l.Filename) {
		return "", oops.Errorf("invalid document name %q", l.Filename)
	}
	cands := r.Candidates(l)
	for _, key := range cands[:len(cands)-1] {
		ok, err := r.backend.Exists(ctx, key)
		if err != nil {
			return "", oops.Wrapf(errors.Join(ErrRead, err), "resolve %s", l.Filename)
		}
		if ok {
			return key, nil
		}
	}
	return cands[len(cands)-1], nil
}
