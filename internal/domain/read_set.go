package domain

import "sort"

// ReadSet is the grow-only set of users that acknowledged a message.
type ReadSet map[string]struct{}

func NewReadSet(ids ...string) ReadSet {
	s := make(ReadSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}

	return s
}

// Add inserts id and reports whether the set changed.
func (s *ReadSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if *s == nil {
		*s = make(ReadSet)
	}
	if _, ok := (*s)[id]; ok {
		return false
	}
	(*s)[id] = struct{}{}

	return true
}

func (s ReadSet) Has(id string) bool {
	_, ok := s[id]

	return ok
}

func (s ReadSet) Len() int {
	return len(s)
}

func (s ReadSet) Clone() ReadSet {
	out := make(ReadSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}

	return out
}

// Slice returns the members sorted for stable output.
func (s ReadSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}
