package report

import (
	"afl-sancov/config"
	"afl-sancov/internal/types"
	"afl-sancov/internal/utils"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	DeltaDiffDir = "delta-diff"
	CoverageDir  = "coverage"
)

// Writer owns the output root of one run.
type Writer struct {
	root      string
	overwrite bool
	logger    *zap.Logger
}

func NewWriter(cfg *config.AppConfig, logger *zap.Logger) *Writer {
	return &Writer{
		root:      cfg.OutputDir,
		overwrite: cfg.Overwrite,
		logger:    logger.Named("report"),
	}
}

func (w *Writer) Root() string {
	return w.root
}

// Prepare claims the output root. An existing root is only reused when
// overwriting was requested; its contents are never removed, reports are
// replaced one by one as they are rewritten.
func (w *Writer) Prepare(subdirs ...string) error {
	if _, err := os.Lstat(w.root); err == nil {
		if !w.overwrite {
			return &types.PreconditionError{Path: w.root}
		}
		w.logger.Info("reusing existing output directory", zap.String("path", w.root))
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	for _, sub := range append([]string{""}, subdirs...) {
		if err := os.MkdirAll(filepath.Join(w.root, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

// DeltaDiffPath is where the report of the crash with the given report name lives.
func (w *Writer) DeltaDiffPath(name string) string {
	return filepath.Join(w.root, DeltaDiffDir, name+".json")
}

// Write persists the delta-diff report under name and returns its path and
// encoded body. Without overwrite the first writer of a path wins and later
// writers get a *types.PreconditionError.
func (w *Writer) Write(name string, r *DeltaDiffReport) (string, []byte, error) {
	body, err := Encode(r)
	if err != nil {
		return "", nil, err
	}
	path := w.DeltaDiffPath(name)
	if err := w.writeFile(path, body); err != nil {
		return "", nil, err
	}
	w.logger.Debug("wrote report", zap.String("path", path))
	return path, body, nil
}

// WriteJSON persists an auxiliary document relative to the root.
func (w *Writer) WriteJSON(rel string, v any) (string, error) {
	body, err := Encode(v)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, w.writeFile(path, body)
}

func (w *Writer) writeFile(path string, body []byte) error {
	err := utils.WriteFileAtomic(path, body, w.overwrite)
	if errors.Is(err, os.ErrExist) {
		return &types.PreconditionError{Path: path}
	}
	return err
}
