package report

import (
	"afl-sancov/internal/types"
	"context"
)

// Publisher forwards persisted results to an external sink. Publishing
// happens after the report file exists; a failing sink never affects the
// files of the run.
type Publisher interface {
	Name() string
	PublishReport(ctx context.Context, msg *types.ReportMessage, body []byte) error
	PublishSummary(ctx context.Context, summary *types.RunSummary) error
}
