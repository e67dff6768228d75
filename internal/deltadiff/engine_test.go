package deltadiff

import (
	"afl-sancov/config"
	"afl-sancov/internal/coverage"
	"afl-sancov/internal/queue"
	"afl-sancov/internal/report"
	"afl-sancov/internal/slice"
	"afl-sancov/internal/types"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	crashA = "id:000000,sig:06,src:000003,op:havoc,rep:2"
	crashB = "id:000001,sig:06,src:000003,op:havoc,rep:4"
	parent = "id:000003,src:000001,op:flip1,pos:4,+cov"
	orphan = "id:000002,sig:11,src:000099,op:arith8"

	collectedA = "HARDEN:0001,SESSION000:id:000000,sig:06,src:000003,op:havoc,rep:2"
	collectedB = "HARDEN:0001,SESSION001:id:000000,sig:06,src:000003,op:havoc,rep:4"
)

// fakeRunner returns canned line coverage per input name.
type fakeRunner struct {
	coverage map[string]map[int]int // name -> line -> count
	fail     map[string]error
	mu       sync.Mutex
	calls    map[string]int
}

func (f *fakeRunner) Run(_ context.Context, rec *queue.Record) (*coverage.Trace, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[rec.Name]++
	f.mu.Unlock()

	if err := f.fail[rec.Name]; err != nil {
		return nil, err
	}
	trace := &coverage.Trace{Input: rec.Path, Crashed: rec.Crashed(), Duration: time.Millisecond}
	for line, count := range f.coverage[rec.Name] {
		trace.Hits = append(trace.Hits, slice.Entry{
			Location: slice.Location{File: "afl-sancov/tests/test-sancov.c", Function: "main", Line: line, Column: 3},
			Count:    count,
		})
	}
	return trace, nil
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{coverage: map[string]map[int]int{
		"id:000000,orig:seed":           {10: 1, 11: 1},
		"id:000001,src:000000,op:havoc": {10: 1, 11: 1, 12: 1, 13: 1},
		parent:                          {10: 1, 11: 1, 12: 1, 13: 1, 14: 1, 20: 2},
		crashA:                          {10: 1, 11: 1, 12: 1, 14: 1, 20: 2, 25: 3, 26: 1},
		crashB:                          {10: 1, 11: 1, 12: 1, 25: 5, 27: 1},
		orphan:                          {10: 1, 30: 2},
		collectedA:                      {10: 1, 11: 1, 12: 1, 14: 1, 20: 2, 25: 3, 26: 1},
		collectedB:                      {10: 1, 11: 1, 12: 1, 25: 5, 27: 1},
	}}
}

func writeFuzzingDir(t *testing.T, crashes ...string) string {
	dir := t.TempDir()
	files := map[string][]string{
		"queue":   {"id:000000,orig:seed", "id:000001,src:000000,op:havoc", parent, ".state"},
		"crashes": append([]string{"README.txt"}, crashes...),
	}
	for sub, names := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		for _, name := range names {
			if name == ".state" {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, sub, name), 0o755))
				continue
			}
			require.NoError(t, os.WriteFile(filepath.Join(dir, sub, name), []byte(name), 0o644))
		}
	}
	return dir
}

func newTestEngine(dir string, runner coverage.Runner, configure func(*config.AppConfig), publisher report.Publisher) *Engine {
	cfg := &config.AppConfig{
		FuzzingDir: dir,
		OutputDir:  filepath.Join(dir, config.OutputDirName),
		DDMode:     true,
		DDNum:      1,
		CoreCount:  4,
	}
	if configure != nil {
		configure(cfg)
	}
	logger := zap.NewNop()
	return NewEngine(EngineParams{
		Config:    cfg,
		Logger:    logger,
		Runner:    runner,
		Writer:    report.NewWriter(cfg, logger),
		Publisher: publisher,
	})
}

func readReport(t *testing.T, dir, name string) (*report.DeltaDiffReport, []byte) {
	body, err := os.ReadFile(filepath.Join(dir, "sancov", "delta-diff", name+".json"))
	require.NoError(t, err)
	var r report.DeltaDiffReport
	require.NoError(t, json.Unmarshal(body, &r))
	return &r, body
}

func TestDeltaDiffEndToEnd(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	runner := newFakeRunner()

	summary, err := newTestEngine(dir, runner, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Zero(t, summary.Skipped, "README.txt and dot entries are filtered, not skipped")

	a, _ := readReport(t, dir, crashA)
	assert.Equal(t, "afl-sancov/tests/test-sancov.c:main:25:3", a.DiffNodeSpec[0].Line)
	assert.Equal(t, 3, a.DiffNodeSpec[0].Count)
	assert.Equal(t, 7, a.SliceLineCount)
	assert.Equal(t, 2, a.DiceLineCount)
	assert.Equal(t, 71.43, a.ShrinkPercent)
	assert.Equal(t, crashA, a.CrashingInput)
	assert.Equal(t, parent, a.ParentInput)

	b, _ := readReport(t, dir, crashB)
	assert.Equal(t, "afl-sancov/tests/test-sancov.c:main:25:3", b.DiffNodeSpec[0].Line)
	assert.Equal(t, 5, b.DiffNodeSpec[0].Count)
	assert.Equal(t, 5, b.SliceLineCount)
	assert.Equal(t, 2, b.DiceLineCount)
	assert.Equal(t, 60.0, b.ShrinkPercent)
	assert.Equal(t, parent, b.ParentInput)

	assert.Equal(t, 1, runner.calls[parent], "shared parent executes once")
	assert.Equal(t, []string{
		filepath.Join(report.DeltaDiffDir, crashA+".json"),
		filepath.Join(report.DeltaDiffDir, crashB+".json"),
	}, summary.Reports)
	assert.FileExists(t, filepath.Join(dir, "sancov", RunSummaryFile))
	assert.FileExists(t, filepath.Join(dir, "sancov", MetricsFile))
}

func TestDeltaDiffCollectedCrashNames(t *testing.T) {
	dir := writeFuzzingDir(t, collectedA, collectedB)
	runner := newFakeRunner()

	summary, err := newTestEngine(dir, runner, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	a, _ := readReport(t, dir, collectedA)
	assert.Equal(t, collectedA, a.CrashingInput)
	assert.Equal(t, parent, a.ParentInput)
	assert.Less(t, a.DiceLineCount, a.SliceLineCount)
	assert.Equal(t, 71.43, a.ShrinkPercent)

	b, _ := readReport(t, dir, collectedB)
	assert.Equal(t, parent, b.ParentInput)
	assert.Less(t, b.DiceLineCount, b.SliceLineCount)
	assert.Equal(t, 60.0, b.ShrinkPercent)

	assert.Equal(t, 1, runner.calls[parent])
}

func TestDeltaDiffMoreControls(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	_, err := newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	a1, _ := readReport(t, dir, crashA)
	b1, _ := readReport(t, dir, crashB)

	runner := newFakeRunner()
	_, err = newTestEngine(dir, runner, func(c *config.AppConfig) {
		c.DDNum = 5
		c.Overwrite = true
	}, nil).Run(context.Background())
	require.NoError(t, err)
	a5, _ := readReport(t, dir, crashA)
	b5, _ := readReport(t, dir, crashB)

	assert.Equal(t, a1, a5)
	assert.Equal(t, b1, b5)
	assert.LessOrEqual(t, a5.DiceLineCount, a1.DiceLineCount)
	assert.Equal(t, 1, runner.calls["id:000000,orig:seed"], "ancestors join the control set")
}

func TestDeltaDiffOverwriteGuard(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	_, err := newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	_, before := readReport(t, dir, crashA)

	_, err = newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	var precondition *types.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Contains(t, err.Error(), "use --overwrite")
	_, after := readReport(t, dir, crashA)
	assert.Equal(t, before, after)

	_, err = newTestEngine(dir, newFakeRunner(), func(c *config.AppConfig) { c.Overwrite = true }, nil).Run(context.Background())
	require.NoError(t, err)
	_, rerun := readReport(t, dir, crashA)
	assert.Equal(t, before, rerun, "reruns are byte-identical")
}

func TestDeltaDiffSummaryListsFreshReports(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	_, err := newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "crashes", crashA)))
	summary, err := newTestEngine(dir, newFakeRunner(), func(c *config.AppConfig) { c.Overwrite = true }, nil).Run(context.Background())
	require.NoError(t, err)

	// the report of the removed crash is left in place but not listed
	assert.FileExists(t, filepath.Join(dir, "sancov", "delta-diff", crashA+".json"))
	assert.Equal(t, []string{filepath.Join(report.DeltaDiffDir, crashB+".json")}, summary.Reports)

	body, err := os.ReadFile(filepath.Join(dir, "sancov", RunSummaryFile))
	require.NoError(t, err)
	var onDisk types.RunSummary
	require.NoError(t, json.Unmarshal(body, &onDisk))
	assert.Equal(t, summary.Reports, onDisk.Reports)
}

func TestDeltaDiffWithoutLineage(t *testing.T) {
	dir := writeFuzzingDir(t, orphan)

	summary, err := newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	r, body := readReport(t, dir, orphan)
	assert.Zero(t, r.ShrinkPercent)
	assert.Equal(t, r.SliceLineCount, r.DiceLineCount)
	assert.Equal(t, "afl-sancov/tests/test-sancov.c:main:30:3", r.DiffNodeSpec[0].Line)
	assert.NotContains(t, string(body), "parent-input")
}

func TestDeltaDiffRecordsFailures(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	runner := newFakeRunner()
	runner.fail = map[string]error{
		crashA: &types.ExecutionError{Input: crashA, Reason: types.ExecTimeout, Timeout: time.Second},
	}

	summary, err := newTestEngine(dir, runner, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, crashA, summary.Failures[0].Input)
	assert.Equal(t, "timeout", summary.Failures[0].Reason)

	assert.NoFileExists(t, filepath.Join(dir, "sancov", "delta-diff", crashA+".json"))
	readReport(t, dir, crashB)
}

func TestDeltaDiffDropsFailedControl(t *testing.T) {
	dir := writeFuzzingDir(t, crashB)
	runner := newFakeRunner()
	runner.fail = map[string]error{
		parent: &types.ExecutionError{Input: parent, Reason: types.ExecExit},
	}

	summary, err := newTestEngine(dir, runner, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	r, _ := readReport(t, dir, crashB)
	assert.Equal(t, r.SliceLineCount, r.DiceLineCount)
	assert.Equal(t, parent, r.ParentInput)
}

type capturePublisher struct {
	mu        sync.Mutex
	reports   []*types.ReportMessage
	summaries []*types.RunSummary
}

func (c *capturePublisher) Name() string { return "capture" }

func (c *capturePublisher) PublishReport(_ context.Context, msg *types.ReportMessage, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, msg)
	return nil
}

func (c *capturePublisher) PublishSummary(_ context.Context, summary *types.RunSummary) error {
	c.summaries = append(c.summaries, summary)
	return nil
}

func TestDeltaDiffPublishes(t *testing.T) {
	dir := writeFuzzingDir(t, crashA, crashB)
	pub := &capturePublisher{}

	summary, err := newTestEngine(dir, newFakeRunner(), nil, pub).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.reports, 2)
	for _, msg := range pub.reports {
		assert.Equal(t, summary.RunID, msg.RunID)
		assert.Equal(t, "afl-sancov/tests/test-sancov.c:main:25:3", msg.TopLine)
		assert.FileExists(t, msg.ReportPath)
		assert.Equal(t, msg.CrashingInput, msg.ReportName)
	}
	require.Len(t, pub.summaries, 1)
	assert.Equal(t, ModeDeltaDiff, pub.summaries[0].Mode)
}

func TestAggregateCoverage(t *testing.T) {
	dir := writeFuzzingDir(t, crashA)

	summary, err := newTestEngine(dir, newFakeRunner(), func(c *config.AppConfig) { c.DDMode = false }, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeCoverage, summary.Mode)
	assert.Equal(t, 3, summary.Processed)

	body, err := os.ReadFile(filepath.Join(dir, "sancov", "coverage", CoverageSummaryFile))
	require.NoError(t, err)
	var cov CoverageSummary
	require.NoError(t, json.Unmarshal(body, &cov))
	assert.Equal(t, 3, cov.Inputs)
	assert.Equal(t, 6, cov.TotalLines)
	assert.Equal(t, map[string]int{"afl-sancov/tests/test-sancov.c": 6}, cov.Files)

	body, err = os.ReadFile(filepath.Join(dir, "sancov", "coverage", DeltaCoverageFile))
	require.NoError(t, err)
	var deltas []InputDelta
	require.NoError(t, json.Unmarshal(body, &deltas))
	require.Len(t, deltas, 3)
	assert.Equal(t, "id:000000,orig:seed", deltas[0].Input)
	assert.Equal(t, []int{2, 2, 2}, []int{deltas[0].NewLines, deltas[1].NewLines, deltas[2].NewLines})
	assert.NoDirExists(t, filepath.Join(dir, "sancov", "delta-diff"))
}

func TestRunMissingQueue(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestEngine(dir, newFakeRunner(), nil, nil).Run(context.Background())
	var configErr *types.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.NoDirExists(t, filepath.Join(dir, "sancov"))
}
