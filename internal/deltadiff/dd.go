package deltadiff

import (
	"afl-sancov/internal/dice"
	"afl-sancov/internal/queue"
	"afl-sancov/internal/report"
	"afl-sancov/internal/slice"
	"afl-sancov/internal/types"
	"afl-sancov/pkg/telemetry"
	"context"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// controlCache executes every control input at most once per run. Sibling
// crashes usually share their parent, and concurrent requests for the same
// control wait for the first execution.
type controlCache struct {
	engine *Engine
	group  singleflight.Group
	mu     sync.Mutex
	done   map[queue.Key]controlResult
}

type controlResult struct {
	slice *slice.Slice
	err   error
}

func newControlCache(e *Engine) *controlCache {
	return &controlCache{engine: e, done: make(map[queue.Key]controlResult)}
}

func (c *controlCache) get(ctx context.Context, rec *queue.Record) (*slice.Slice, error) {
	key := rec.Key()
	c.mu.Lock()
	if res, ok := c.done[key]; ok {
		c.mu.Unlock()
		return res.slice, res.err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		trace, err := c.engine.execute(ctx, rec)
		res := controlResult{err: err}
		if err == nil {
			res.slice = trace.Slice()
		}
		if ctx.Err() == nil {
			c.mu.Lock()
			c.done[key] = res
			c.mu.Unlock()
		}
		return res.slice, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*slice.Slice), nil
}

func (e *Engine) runDeltaDiff(ctx context.Context, idx *queue.Index, summary *types.RunSummary) error {
	crashes := idx.Crashes()
	e.logger.Info("localizing crashes",
		zap.Int("crashes", len(crashes)),
		zap.Int("dd_num", e.config.DDNum),
		zap.Int("workers", e.config.CoreCount))

	cache := newControlCache(e)
	results, err := forEach(ctx, e.config.CoreCount, crashes, func(ctx context.Context, crash *queue.Record) crashResult {
		return e.localize(ctx, idx, cache, crash)
	})
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.failure != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, *res.failure)
			e.metrics.ObserveInput("failed")
			continue
		}
		summary.Processed++
		summary.Reports = append(summary.Reports, res.report)
		e.metrics.ObserveInput("processed")
	}
	return nil
}

// crashResult holds either the report path relative to the output root or
// the reason no report was written.
type crashResult struct {
	report  string
	failure *types.InputFailure
}

// localize runs one crash through execute, slice, dice, report, publish.
func (e *Engine) localize(ctx context.Context, idx *queue.Index, cache *controlCache, crash *queue.Record) crashResult {
	logger := e.logger.With(zap.String("crash", crash.Name), zap.String("session", crash.Session))

	controls := idx.Controls(crash, e.config.DDNum)
	controlPaths := make([]string, 0, len(controls))
	for _, c := range controls {
		controlPaths = append(controlPaths, c.Name)
	}

	tracer := telemetry.FromContext(ctx).Spawn("localize crash")
	tracer.WithAttributes(telemetry.NewSpanAttributes().
		WithInput(crash.Path, crash.Kind.String(), crash.Session).
		WithControls(controlPaths))
	tracer.Start()
	defer tracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)

	fail := func(stage string, err error) crashResult {
		logger.Warn("failed to localize crash", zap.String("stage", stage), zap.Error(err))
		tracer.SetStatus(codes.Error, err.Error())
		return crashResult{failure: failure(crash, stage, err)}
	}

	trace, err := e.execute(ctx, crash)
	if err != nil {
		return fail("execute", err)
	}

	controlSlices := make([]*slice.Slice, 0, len(controls))
	for _, c := range controls {
		s, err := cache.get(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return fail("execute", ctx.Err())
			}
			logger.Warn("dropping control", zap.String("control", c.Name), zap.Error(err))
			continue
		}
		controlSlices = append(controlSlices, s)
	}
	if len(controls) == 0 {
		logger.Debug("no lineage, reporting the full crash slice")
	}

	d := dice.Compute(trace.Slice(), controlSlices)
	parent, _ := idx.Parent(crash)
	rep, err := report.Build(crash, parent, d)
	if err != nil {
		return fail("report", err)
	}
	path, body, err := e.writer.Write(crash.ReportName(), rep)
	if err != nil {
		return fail("write", err)
	}

	e.metrics.ObserveReport(rep.ShrinkPercent)
	tracer.WithAttributes(telemetry.NewSpanAttributes().WithDice(rep.SliceLineCount, rep.DiceLineCount, rep.ShrinkPercent))
	logger.Info("localized crash",
		zap.Int("controls", len(controlSlices)),
		zap.Int("slice_lines", rep.SliceLineCount),
		zap.Int("dice_lines", rep.DiceLineCount),
		zap.Float64("shrink_percent", rep.ShrinkPercent))

	if e.publisher != nil {
		msg := &types.ReportMessage{
			ReportPath:     path,
			ReportName:     crash.ReportName(),
			CrashingInput:  rep.CrashingInput,
			ParentInput:    rep.ParentInput,
			ShrinkPercent:  rep.ShrinkPercent,
			DiceLineCount:  rep.DiceLineCount,
			SliceLineCount: rep.SliceLineCount,
		}
		if runID, ok := ctx.Value(runIDKey{}).(string); ok {
			msg.RunID = runID
		}
		if len(rep.DiffNodeSpec) > 0 {
			msg.TopLine = rep.DiffNodeSpec[0].Line
		}
		_ = e.publisher.PublishReport(ctx, msg, body)
	}

	rel, err := filepath.Rel(e.writer.Root(), path)
	if err != nil {
		rel = path
	}
	return crashResult{report: rel}
}
