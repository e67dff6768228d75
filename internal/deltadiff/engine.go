// Package deltadiff drives a run: it scans the AFL output, executes the
// selected inputs on a bounded worker pool and persists the results.
package deltadiff

import (
	"afl-sancov/config"
	"afl-sancov/internal/coverage"
	"afl-sancov/internal/queue"
	"afl-sancov/internal/report"
	"afl-sancov/internal/types"
	"afl-sancov/pkg/metrics"
	"afl-sancov/pkg/telemetry"
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ModeDeltaDiff = "delta-diff"
	ModeCoverage  = "coverage"

	RunSummaryFile = "run-summary.json"
	MetricsFile    = "metrics.prom"
)

type runIDKey struct{}

type Engine struct {
	config        *config.AppConfig
	scanner       *queue.Scanner
	runner        coverage.Runner
	writer        *report.Writer
	publisher     report.Publisher
	metrics       *metrics.Metrics
	tracerFactory *telemetry.TracerFactory
	logger        *zap.Logger
}

type EngineParams struct {
	fx.In
	Config        *config.AppConfig
	Logger        *zap.Logger
	Runner        coverage.Runner
	Writer        *report.Writer
	Publisher     report.Publisher         `optional:"true"`
	Metrics       *metrics.Metrics         `optional:"true"`
	TracerFactory *telemetry.TracerFactory `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	m := p.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Engine{
		config:        p.Config,
		scanner:       queue.NewScanner(p.Logger.Named("queue"), p.Config.QueueIDLimit),
		runner:        p.Runner,
		writer:        p.Writer,
		publisher:     p.Publisher,
		metrics:       m,
		tracerFactory: p.TracerFactory,
		logger:        p.Logger.Named("engine"),
	}
}

// Run processes the fuzzing directory once. Per-input failures end up in
// the returned summary; only configuration problems and an output root
// that may not be reused abort the run with an error.
func (e *Engine) Run(ctx context.Context) (*types.RunSummary, error) {
	mode := ModeCoverage
	if e.config.DDMode {
		mode = ModeDeltaDiff
	}
	summary := &types.RunSummary{RunID: uuid.NewString(), Mode: mode}

	tracer := e.tracerFactory.NewTracer(ctx, "afl-sancov "+mode)
	tracer.WithAttributes(telemetry.NewSpanAttributes().WithExtraAttributes(map[string]any{
		"sancov.run_id":      summary.RunID,
		"sancov.fuzzing_dir": e.config.FuzzingDir,
	}))
	tracer.Start()
	defer tracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)
	ctx = context.WithValue(ctx, runIDKey{}, summary.RunID)

	idx, err := e.scanner.Scan(e.config.FuzzingDir)
	if err != nil {
		return nil, err
	}
	summary.Skipped = idx.Skipped
	for range idx.Skipped {
		e.metrics.ObserveInput("skipped")
	}

	subdir := report.CoverageDir
	if e.config.DDMode {
		subdir = report.DeltaDiffDir
	}
	if err := e.writer.Prepare(subdir); err != nil {
		return nil, err
	}

	start := time.Now()
	if e.config.DDMode {
		err = e.runDeltaDiff(ctx, idx, summary)
	} else {
		err = e.runAggregate(ctx, idx, summary)
	}
	if err != nil {
		return nil, err
	}

	if _, err := e.writer.WriteJSON(RunSummaryFile, summary); err != nil {
		return nil, err
	}
	if err := e.metrics.WriteTextfile(filepath.Join(e.writer.Root(), MetricsFile)); err != nil {
		e.logger.Warn("failed to write metrics", zap.Error(err))
	}
	if e.publisher != nil {
		// sink errors are logged by the publisher and never fail the run
		_ = e.publisher.PublishSummary(ctx, summary)
	}

	e.logger.Info("run finished",
		zap.String("mode", mode),
		zap.String("output", e.writer.Root()),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", time.Since(start)))
	return summary, nil
}

// forEach runs fn for every record on a pool of CoreCount workers. Results
// are stored by index so that aggregation stays in input order.
func forEach[T any](ctx context.Context, workers int, records []*queue.Record, fn func(context.Context, *queue.Record) T) ([]T, error) {
	results := make([]T, len(records))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = fn(ctx, rec)
			return nil
		})
	}
	g.Wait()
	return results, ctx.Err()
}

// failure converts an input error into a summary entry.
func failure(rec *queue.Record, stage string, err error) *types.InputFailure {
	reason := stage
	var execErr *types.ExecutionError
	var precondition *types.PreconditionError
	switch {
	case errors.As(err, &execErr):
		reason = string(execErr.Reason)
	case errors.As(err, &precondition):
		reason = "exists"
	}
	return &types.InputFailure{Input: rec.Name, Reason: reason, Error: err.Error()}
}

func outcome(trace *coverage.Trace, err error) string {
	var execErr *types.ExecutionError
	switch {
	case err == nil && trace.Crashed:
		return "crashed"
	case err == nil:
		return "ok"
	case errors.As(err, &execErr) && execErr.Reason == types.ExecTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// execute runs rec once and records the execution metrics.
func (e *Engine) execute(ctx context.Context, rec *queue.Record) (*coverage.Trace, error) {
	trace, err := e.runner.Run(ctx, rec)
	var took time.Duration
	if trace != nil {
		took = trace.Duration
	}
	if ctx.Err() == nil {
		e.metrics.ObserveExecution(rec.Kind.String(), outcome(trace, err), took)
	}
	return trace, err
}
