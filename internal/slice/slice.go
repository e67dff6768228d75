package slice

import (
	"fmt"
	"sort"
)

// Location is a symbolized source position.
type Location struct {
	File     string
	Function string
	Line     int
	Column   int
}

// String renders the location the way reports print it: file:function:line:col.
func (l Location) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", l.File, l.Function, l.Line, l.Column)
}

// Known is false for frames the symbolizer could not resolve.
func (l Location) Known() bool {
	return l.File != "" && l.File != "??" && l.Line > 0
}

// Less is the canonical location order: file, line, column, then function.
func Less(a, b Location) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Column != b.Column {
		return a.Column < b.Column
	}
	return a.Function < b.Function
}

// Entry is a location with the number of times an execution hit it.
type Entry struct {
	Location Location
	Count    int
}

// Slice is the deduplicated, canonically ordered set of locations one
// execution exercised.
type Slice struct {
	entries []Entry
	index   map[Location]int
}

// Compute folds raw trace entries into a Slice. Repeated locations are
// merged by summing their counts; unresolved locations are dropped.
func Compute(hits []Entry) *Slice {
	counts := make(map[Location]int, len(hits))
	for _, h := range hits {
		if !h.Location.Known() || h.Count <= 0 {
			continue
		}
		counts[h.Location] += h.Count
	}

	entries := make([]Entry, 0, len(counts))
	for loc, n := range counts {
		entries = append(entries, Entry{Location: loc, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i].Location, entries[j].Location)
	})

	index := make(map[Location]int, len(entries))
	for i, e := range entries {
		index[e.Location] = i
	}
	return &Slice{entries: entries, index: index}
}

func (s *Slice) Len() int {
	return len(s.entries)
}

// Entries returns the slice in canonical order. Callers must not modify it.
func (s *Slice) Entries() []Entry {
	return s.entries
}

func (s *Slice) Contains(loc Location) bool {
	_, ok := s.index[loc]
	return ok
}

// Count returns the hit count of loc, or 0.
func (s *Slice) Count(loc Location) int {
	i, ok := s.index[loc]
	if !ok {
		return 0
	}
	return s.entries[i].Count
}

// Files returns the number of distinct locations per source file.
func (s *Slice) Files() map[string]int {
	out := make(map[string]int)
	for _, e := range s.entries {
		out[e.Location.File]++
	}
	return out
}
