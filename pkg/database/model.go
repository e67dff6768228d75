package database

import (
	"time"

	"gorm.io/datatypes"
)

// Run represents a record in the public.sancov_runs table
type Run struct {
	ID         string    `gorm:"primaryKey;column:id"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
	FuzzingDir string    `gorm:"column:fuzzing_dir;not null"`
	Mode       string    `gorm:"column:mode;not null"`
	Processed  int       `gorm:"column:processed"`
	Skipped    int       `gorm:"column:skipped"`
	Failed     int       `gorm:"column:failed"`
}

func (Run) TableName() string { return "sancov_runs" }

// Report represents a record in the public.delta_diff_reports table
type Report struct {
	ID             int            `gorm:"primaryKey;column:id"`
	RunID          string         `gorm:"column:run_id;not null;index"`
	CreatedAt      time.Time      `gorm:"column:created_at;default:now()"`
	ReportName     string         `gorm:"column:report_name;not null"`
	CrashingInput  string         `gorm:"column:crashing_input;not null"`
	ParentInput    *string        `gorm:"column:parent_input"`
	Path           string         `gorm:"column:path;not null"`
	ShrinkPercent  float64        `gorm:"column:shrink_percent"`
	DiceLineCount  int            `gorm:"column:dice_linecount"`
	SliceLineCount int            `gorm:"column:slice_linecount"`
	TopLine        string         `gorm:"column:top_line"`
	Body           datatypes.JSON `gorm:"column:body;type:jsonb;not null"`
}

func (Report) TableName() string { return "delta_diff_reports" }
