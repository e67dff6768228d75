// Package report assembles delta-diff reports and persists them under the
// run's output root.
package report

import (
	"afl-sancov/internal/dice"
	"afl-sancov/internal/queue"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Node is one diced location with the crash execution's hit count.
type Node struct {
	Line  string `json:"line"`
	Count int    `json:"count"`
}

// DeltaDiffReport is the persisted result of localizing one crash. Field
// order is the order of the JSON document.
type DeltaDiffReport struct {
	ShrinkPercent  float64 `json:"shrink-percent"`
	DiceLineCount  int     `json:"dice-linecount"`
	SliceLineCount int     `json:"slice-linecount"`
	DiffNodeSpec   []Node  `json:"diff-node-spec"`
	CrashingInput  string  `json:"crashing-input"`
	ParentInput    string  `json:"parent-input,omitempty"`
}

// Build assembles the report of crash. parent is nil when the crash has no
// resolvable lineage.
func Build(crash, parent *queue.Record, d *dice.Dice) (*DeltaDiffReport, error) {
	ranked := d.Ranked()
	r := &DeltaDiffReport{
		ShrinkPercent:  d.ShrinkPercent(),
		DiceLineCount:  d.DiceLineCount(),
		SliceLineCount: d.SliceLineCount(),
		DiffNodeSpec:   make([]Node, 0, len(ranked)),
		CrashingInput:  crash.Name,
	}
	for _, e := range ranked {
		r.DiffNodeSpec = append(r.DiffNodeSpec, Node{Line: e.Location.String(), Count: e.Count})
	}
	if parent != nil {
		r.ParentInput = parent.Name
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("report for %s: %w", crash.Name, err)
	}
	return r, nil
}

// Validate checks the invariants every persisted report satisfies.
func (r *DeltaDiffReport) Validate() error {
	switch {
	case r.CrashingInput == "":
		return errors.New("missing crashing input")
	case r.DiceLineCount < 0 || r.DiceLineCount > r.SliceLineCount:
		return fmt.Errorf("dice line count %d outside [0, %d]", r.DiceLineCount, r.SliceLineCount)
	case r.DiceLineCount != len(r.DiffNodeSpec):
		return fmt.Errorf("dice line count %d does not match %d nodes", r.DiceLineCount, len(r.DiffNodeSpec))
	case r.ShrinkPercent < 0 || r.ShrinkPercent > 100:
		return fmt.Errorf("shrink percent %v outside [0, 100]", r.ShrinkPercent)
	}
	for i, n := range r.DiffNodeSpec {
		if n.Line == "" || n.Count <= 0 {
			return fmt.Errorf("invalid node %d: %+v", i, n)
		}
		if i > 0 && n.Count > r.DiffNodeSpec[i-1].Count {
			return fmt.Errorf("node %d is ranked above a lower count", i)
		}
	}
	return nil
}

// Encode renders v with four space indentation and without HTML escaping,
// terminated by a newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
