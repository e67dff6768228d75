package deltadiff

import (
	"afl-sancov/internal/queue"
	"afl-sancov/internal/report"
	"afl-sancov/internal/slice"
	"afl-sancov/internal/types"
	"context"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	CoverageSummaryFile = "summary.json"
	DeltaCoverageFile   = "id-delta-cov.json"
)

// CoverageSummary is the overall coverage of the queue.
type CoverageSummary struct {
	Inputs     int            `json:"inputs"`
	Failed     int            `json:"failed"`
	TotalLines int            `json:"total-lines"`
	Files      map[string]int `json:"files"`
}

// InputDelta lists the locations an input added to the coverage of the
// inputs scanned before it.
type InputDelta struct {
	Input    string   `json:"input"`
	NewLines int      `json:"new-lines"`
	Lines    []string `json:"lines,omitempty"`
}

type aggregateResult struct {
	slice *slice.Slice
	err   error
}

// runAggregate executes every queue entry and folds the slices into one
// coverage union, in scan order.
func (e *Engine) runAggregate(ctx context.Context, idx *queue.Index, summary *types.RunSummary) error {
	records := idx.Queue()
	e.logger.Info("collecting queue coverage",
		zap.Int("inputs", len(records)),
		zap.Int("workers", e.config.CoreCount))

	results, err := forEach(ctx, e.config.CoreCount, records, func(ctx context.Context, rec *queue.Record) aggregateResult {
		trace, err := e.execute(ctx, rec)
		if err != nil {
			return aggregateResult{err: err}
		}
		return aggregateResult{slice: trace.Slice()}
	})
	if err != nil {
		return err
	}

	covered := make(map[slice.Location]struct{})
	cov := CoverageSummary{Files: make(map[string]int)}
	deltas := make([]InputDelta, 0, len(records))
	for i, res := range results {
		rec := records[i]
		if res.err != nil {
			e.logger.Warn("failed to collect coverage", zap.String("input", rec.Name), zap.Error(res.err))
			summary.Failed++
			summary.Failures = append(summary.Failures, *failure(rec, "execute", res.err))
			e.metrics.ObserveInput("failed")
			continue
		}
		summary.Processed++
		e.metrics.ObserveInput("processed")

		delta := InputDelta{Input: rec.ReportName()}
		for _, entry := range res.slice.Entries() {
			if _, ok := covered[entry.Location]; ok {
				continue
			}
			covered[entry.Location] = struct{}{}
			cov.Files[entry.Location.File]++
			delta.Lines = append(delta.Lines, entry.Location.String())
		}
		delta.NewLines = len(delta.Lines)
		deltas = append(deltas, delta)
	}
	cov.Inputs = len(records)
	cov.Failed = summary.Failed
	cov.TotalLines = len(covered)

	if _, err := e.writer.WriteJSON(filepath.Join(report.CoverageDir, CoverageSummaryFile), cov); err != nil {
		return err
	}
	if _, err := e.writer.WriteJSON(filepath.Join(report.CoverageDir, DeltaCoverageFile), deltas); err != nil {
		return err
	}
	e.logger.Info("queue coverage",
		zap.Int("total_lines", cov.TotalLines),
		zap.Int("files", len(cov.Files)))
	return nil
}
