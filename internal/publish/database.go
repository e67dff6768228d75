package publish

import (
	"afl-sancov/config"
	"afl-sancov/internal/types"
	"afl-sancov/pkg/database"
	"context"

	"gorm.io/gorm"
)

// DBPublisher stores reports in delta_diff_reports and the run in sancov_runs.
type DBPublisher struct {
	db         *gorm.DB
	fuzzingDir string
}

func NewDBPublisher(db *gorm.DB, cfg *config.AppConfig) *DBPublisher {
	if db == nil {
		return nil
	}
	return &DBPublisher{db: db, fuzzingDir: cfg.FuzzingDir}
}

func (p *DBPublisher) Name() string { return "postgres" }

func (p *DBPublisher) PublishReport(ctx context.Context, msg *types.ReportMessage, body []byte) error {
	return database.AddReport(ctx, p.db, database.NewReport(msg, body))
}

func (p *DBPublisher) PublishSummary(ctx context.Context, summary *types.RunSummary) error {
	return database.SaveRun(ctx, p.db, database.NewRun(summary, p.fuzzingDir))
}
