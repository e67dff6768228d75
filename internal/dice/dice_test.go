package dice

import (
	"afl-sancov/internal/slice"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(line int) slice.Location {
	return slice.Location{File: "afl-sancov/tests/test-sancov.c", Function: "main", Line: line, Column: 3}
}

func sliceOf(counts map[int]int) *slice.Slice {
	hits := make([]slice.Entry, 0, len(counts))
	for line, n := range counts {
		hits = append(hits, slice.Entry{Location: at(line), Count: n})
	}
	return slice.Compute(hits)
}

func TestComputeRemovesControlLocations(t *testing.T) {
	crash := sliceOf(map[int]int{10: 1, 12: 1, 20: 2, 25: 3, 30: 1})
	parent := sliceOf(map[int]int{10: 7, 12: 7, 30: 7, 40: 1})

	d := Compute(crash, []*slice.Slice{parent})
	assert.Equal(t, 5, d.SliceLineCount())
	assert.Equal(t, 2, d.DiceLineCount())
	assert.Equal(t, 60.0, d.ShrinkPercent())

	ranked := d.Ranked()
	require.Len(t, ranked, 2)
	assert.Equal(t, "afl-sancov/tests/test-sancov.c:main:25:3", ranked[0].Location.String())
	assert.Equal(t, 3, ranked[0].Count, "count comes from the crash execution")
	assert.Equal(t, 20, ranked[1].Location.Line)
}

func TestComputeWithoutControls(t *testing.T) {
	crash := sliceOf(map[int]int{1: 1, 2: 1, 3: 1})
	d := Compute(crash, nil)
	assert.Equal(t, 3, d.DiceLineCount())
	assert.Equal(t, 3, d.SliceLineCount())
	assert.Equal(t, 0.0, d.ShrinkPercent())
}

func TestComputeEmptyCrashSlice(t *testing.T) {
	d := Compute(slice.Compute(nil), []*slice.Slice{sliceOf(map[int]int{1: 1})})
	assert.Equal(t, 0, d.DiceLineCount())
	assert.Equal(t, 0.0, d.ShrinkPercent())
	assert.Empty(t, d.Ranked())
}

func TestComputeFullOverlap(t *testing.T) {
	crash := sliceOf(map[int]int{1: 1, 2: 1})
	d := Compute(crash, []*slice.Slice{sliceOf(map[int]int{1: 1, 2: 5, 3: 1})})
	assert.Equal(t, 0, d.DiceLineCount())
	assert.Equal(t, 100.0, d.ShrinkPercent())
}

func TestRankedTieBreak(t *testing.T) {
	crash := sliceOf(map[int]int{9: 2, 4: 2, 7: 5, 1: 2})
	ranked := Compute(crash, nil).Ranked()
	lines := make([]int, 0, len(ranked))
	for _, e := range ranked {
		lines = append(lines, e.Location.Line)
	}
	assert.Equal(t, []int{7, 1, 4, 9}, lines)
}

func TestShrinkPercentRounding(t *testing.T) {
	crash := sliceOf(map[int]int{1: 1, 2: 1, 3: 1})
	d := Compute(crash, []*slice.Slice{sliceOf(map[int]int{1: 1})})
	assert.Equal(t, 33.33, d.ShrinkPercent())
}

// Adding controls may only shrink the dice.
func TestMonotonicInControlCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := func() *slice.Slice {
		counts := make(map[int]int)
		for i := 0; i < 40; i++ {
			counts[rng.Intn(60)+1] = rng.Intn(4) + 1
		}
		return sliceOf(counts)
	}

	for round := 0; round < 20; round++ {
		crash := random()
		controls := []*slice.Slice{random(), random(), random(), random(), random()}

		prev := Compute(crash, nil).DiceLineCount()
		for n := 1; n <= len(controls); n++ {
			d := Compute(crash, controls[:n])
			assert.LessOrEqual(t, d.DiceLineCount(), prev)
			assert.LessOrEqual(t, d.DiceLineCount(), d.SliceLineCount())
			assert.GreaterOrEqual(t, d.ShrinkPercent(), 0.0)
			assert.LessOrEqual(t, d.ShrinkPercent(), 100.0)
			prev = d.DiceLineCount()
		}
	}
}
