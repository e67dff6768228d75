// Package dice isolates the source locations a crashing execution reaches
// but none of its related non-crashing executions do.
package dice

import (
	"afl-sancov/internal/slice"
	"math"
	"sort"
)

// Dice is the crash slice minus the union of the control slices. Counts are
// the crash execution's own hit counts.
type Dice struct {
	entries    []slice.Entry // canonical order
	sliceLines int
	controls   int
}

// Compute removes from crash every location that appears in at least one
// control. With no controls the dice equals the crash slice.
func Compute(crash *slice.Slice, controls []*slice.Slice) *Dice {
	d := &Dice{sliceLines: crash.Len(), controls: len(controls)}
	for _, e := range crash.Entries() {
		if !inAny(e.Location, controls) {
			d.entries = append(d.entries, e)
		}
	}
	return d
}

func inAny(loc slice.Location, controls []*slice.Slice) bool {
	for _, c := range controls {
		if c.Contains(loc) {
			return true
		}
	}
	return false
}

// SliceLineCount is the number of distinct locations the crash hit.
func (d *Dice) SliceLineCount() int {
	return d.sliceLines
}

// DiceLineCount is the number of locations unique to the crash.
func (d *Dice) DiceLineCount() int {
	return len(d.entries)
}

// Controls is the number of control slices that were subtracted.
func (d *Dice) Controls() int {
	return d.controls
}

// ShrinkPercent is 100*(1 - dice/slice), rounded to two decimals and kept
// within [0, 100]. It is 0 when there was nothing to subtract.
func (d *Dice) ShrinkPercent() float64 {
	if d.sliceLines == 0 || d.controls == 0 {
		return 0
	}
	pct := 100 * (1 - float64(len(d.entries))/float64(d.sliceLines))
	pct = math.Round(pct*100) / 100
	return math.Max(0, math.Min(100, pct))
}

// Entries returns the dice in canonical location order.
func (d *Dice) Entries() []slice.Entry {
	return d.entries
}

// Ranked orders the dice by descending hit count. Equal counts keep the
// canonical location order so output is stable across runs.
func (d *Dice) Ranked() []slice.Entry {
	ranked := make([]slice.Entry, len(d.entries))
	copy(ranked, d.entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return slice.Less(ranked[i].Location, ranked[j].Location)
	})
	return ranked
}
