package database

import (
	"afl-sancov/internal/types"
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inserts a single report record into the database
func AddReport(ctx context.Context, db *gorm.DB, report *Report) error {
	if report == nil {
		return nil
	}
	return db.WithContext(ctx).Create(report).Error
}

// NewReport creates a Report row from a published report message and its JSON body
func NewReport(msg *types.ReportMessage, body []byte) *Report {
	report := &Report{
		RunID:          msg.RunID,
		CreatedAt:      time.Now(),
		ReportName:     msg.ReportName,
		CrashingInput:  msg.CrashingInput,
		Path:           msg.ReportPath,
		ShrinkPercent:  msg.ShrinkPercent,
		DiceLineCount:  msg.DiceLineCount,
		SliceLineCount: msg.SliceLineCount,
		TopLine:        msg.TopLine,
		Body:           datatypes.JSON(body),
	}
	if msg.ParentInput != "" {
		parent := msg.ParentInput
		report.ParentInput = &parent
	}
	return report
}

// upserts the run summary, a run is saved once it finished
func SaveRun(ctx context.Context, db *gorm.DB, run *Run) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(run).Error
}

func NewRun(summary *types.RunSummary, fuzzingDir string) *Run {
	return &Run{
		ID:         summary.RunID,
		CreatedAt:  time.Now(),
		FuzzingDir: fuzzingDir,
		Mode:       summary.Mode,
		Processed:  summary.Processed,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
	}
}
