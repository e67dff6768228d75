package types

// ReportMessage is published to the message queue once a delta-diff report
// has been persisted.
type ReportMessage struct {
	RunID          string  `json:"run_id"`
	ReportPath     string  `json:"report_path"`
	ReportName     string  `json:"report_name"` // unique per run, instance-qualified in parallel layouts
	CrashingInput  string  `json:"crashing_input"`
	ParentInput    string  `json:"parent_input,omitempty"`
	ShrinkPercent  float64 `json:"shrink_percent"`
	DiceLineCount  int     `json:"dice_linecount"`
	SliceLineCount int     `json:"slice_linecount"`
	TopLine        string  `json:"top_line,omitempty"`
}

// RunSummary is the per-run side effect of the orchestrator.
type RunSummary struct {
	RunID     string `json:"run_id"`
	Mode      string `json:"mode"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`

	Reports  []string       `json:"reports,omitempty"` // written this run, relative to the output root
	Failures []InputFailure `json:"failures,omitempty"`
}

// InputFailure records why an input did not produce a result.
type InputFailure struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}
