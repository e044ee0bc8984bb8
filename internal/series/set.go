package series

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Any is the sentinel used for "no particular series". It is never a member
// of a Set.
const Any = "any"

// Default in the code or series slot bypasses per-client lookup.
const Default = "default"

// Set is an ordered, read-only collection of supported series names.
type Set struct {
	names   []string
	members mapset.Set[string]
}

// NewSet builds a Set from names in the given order. Empty names, duplicates
// and the Any/Default sentinels are dropped.
func NewSet(names ...string) Set {
	s := Set{members: mapset.NewThreadUnsafeSet[string]()}
	for _, n := range names {
		if n == "" || n == Any || n == Default {
			continue
		}
		if s.members.Add(n) {
			s.names = append(s.names, n)
		}
	}
	return s
}

// Contains reports whether name is a supported series.
func (s Set) Contains(name string) bool {
	if s.members == nil || name == "" {
		return false
	}
	return s.members.Contains(name)
}

// Names returns a copy of the series in order.
func (s Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Set) Len() int { return len(s.names) }

// Normalize maps unknown or empty names to Any.
func (s Set) Normalize(name string) string {
	if s.Contains(name) {
		return name
	}
	return Any
}
