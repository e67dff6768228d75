package coverage

import (
	"afl-sancov/config"
	"afl-sancov/internal/queue"
	"afl-sancov/internal/slice"
	"afl-sancov/internal/types"
	"afl-sancov/pkg/telemetry"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// placeholders substituted with the test case path
	aflFilePlaceholder = "AFL_FILE"
	aflArgPlaceholder  = "@@"

	stderrTail = 2048
)

// Trace is the coverage one execution of the target produced.
type Trace struct {
	Input    string
	Crashed  bool
	ExitCode int
	Signal   syscall.Signal
	Duration time.Duration
	Hits     []slice.Entry
}

// Slice folds the trace hits into an execution slice.
func (t *Trace) Slice() *slice.Slice {
	return slice.Compute(t.Hits)
}

// Runner executes a single queue entry against the instrumented target.
type Runner interface {
	Run(ctx context.Context, rec *queue.Record) (*Trace, error)
}

// SancovRunner runs the sancov instrumented binary with sanitizer coverage
// enabled and symbolizes the .sancov file it leaves behind.
type SancovRunner struct {
	command    []string
	binPath    string
	sanitizer  string
	sanOptions string
	timeout    time.Duration
	srcPrefix  string
	symbolizer Symbolizer
	logger     *zap.Logger
}

func NewSancovRunner(cfg *config.AppConfig, symbolizer Symbolizer, logger *zap.Logger) *SancovRunner {
	return &SancovRunner{
		command:    cfg.Runner.CoverageCmd,
		binPath:    cfg.Runner.BinPath,
		sanitizer:  cfg.Runner.Sanitizer,
		sanOptions: cfg.Runner.SanitizerOptions,
		timeout:    cfg.Runner.ExecTimeout,
		srcPrefix:  cfg.Runner.SrcPrefix,
		symbolizer: symbolizer,
		logger:     logger.Named("runner"),
	}
}

// Run executes rec once. A record that AFL saved as a crash may exit
// non-zero or die from a signal; any other record must exit cleanly.
// Failures are returned as *types.ExecutionError unless ctx was cancelled.
func (r *SancovRunner) Run(ctx context.Context, rec *queue.Record) (*Trace, error) {
	tracer := telemetry.FromContext(ctx).Spawn("sancov execution")
	tracer.WithAttributes(telemetry.NewSpanAttributes().WithInput(rec.Path, rec.Kind.String(), rec.Session))
	tracer.Start()
	defer tracer.End()

	trace, err := r.run(ctx, rec)
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	tracer.WithAttributes(telemetry.NewSpanAttributes().WithExtraAttributes(map[string]any{
		"sancov.hits":    len(trace.Hits),
		"sancov.crashed": trace.Crashed,
	}))
	return trace, nil
}

func (r *SancovRunner) run(ctx context.Context, rec *queue.Record) (*Trace, error) {
	covDir, err := os.MkdirTemp("", "afl-sancov-"+uuid.NewString()+"-")
	if err != nil {
		return nil, &types.ExecutionError{Input: rec.Path, Reason: types.ExecStart, Err: err}
	}
	defer os.RemoveAll(covDir)

	args, useStdin := expandCommand(r.command, rec.Path)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), r.sanitizerEnv(covDir)...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if useStdin {
		input, err := os.Open(rec.Path)
		if err != nil {
			return nil, &types.ExecutionError{Input: rec.Path, Reason: types.ExecStart, Err: err}
		}
		defer input.Close()
		cmd.Stdin = input
	}

	r.logger.Debug("running target", zap.String("command", cmd.String()), zap.String("input", rec.Path))
	start := time.Now()
	runErr := cmd.Run()
	trace := &Trace{Input: rec.Path, Duration: time.Since(start)}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &types.ExecutionError{Input: rec.Path, Reason: types.ExecTimeout, Timeout: r.timeout}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &types.ExecutionError{Input: rec.Path, Reason: types.ExecStart, Err: runErr}
		}
		trace.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			trace.Signal = status.Signal()
		}
		if !rec.Crashed() {
			return nil, &types.ExecutionError{
				Input:  rec.Path,
				Reason: types.ExecExit,
				Err:    fmt.Errorf("%w: %s", runErr, tail(stderr.Bytes())),
			}
		}
		trace.Crashed = true
	} else if rec.Crashed() {
		r.logger.Warn("crash did not reproduce", zap.String("input", rec.Path))
	}

	hits, err := r.collect(ctx, covDir)
	if err != nil {
		return nil, &types.ExecutionError{Input: rec.Path, Reason: types.ExecArtifact, Err: err}
	}
	trace.Hits = hits

	r.logger.Debug("collected coverage",
		zap.String("input", rec.Path),
		zap.Int("hits", len(hits)),
		zap.Bool("crashed", trace.Crashed),
		zap.Duration("took", trace.Duration))
	return trace, nil
}

// sanitizerEnv enables sanitizer coverage output into covDir. Crashes
// must abort so that they surface as a signal.
func (r *SancovRunner) sanitizerEnv(covDir string) []string {
	options := []string{
		"coverage=1",
		"coverage_dir=" + covDir,
		"abort_on_error=1",
		"symbolize=0",
	}
	if r.sanOptions != "" {
		options = append(options, r.sanOptions)
	}
	name := "ASAN_OPTIONS"
	switch r.sanitizer {
	case "undefined":
		name = "UBSAN_OPTIONS"
		options = append(options, "halt_on_error=1")
	case "memory":
		name = "MSAN_OPTIONS"
	}
	return []string{name + "=" + strings.Join(options, ":")}
}

// collect merges the pcs of every .sancov file the target binary wrote.
// Files of other modules (shared libraries) are ignored.
func (r *SancovRunner) collect(ctx context.Context, covDir string) ([]slice.Entry, error) {
	matches, err := filepath.Glob(filepath.Join(covDir, "*.sancov"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	module := filepath.Base(r.binPath)
	seen := make(map[uint64]struct{})
	found := false
	for _, m := range matches {
		if sancovModule(m) != module {
			r.logger.Debug("ignoring coverage of other module", zap.String("file", m))
			continue
		}
		found = true
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		pcs, err := DecodeSancov(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(m), err)
		}
		for _, pc := range pcs {
			seen[pc] = struct{}{}
		}
	}
	if !found {
		return nil, fmt.Errorf("no %s.*.sancov file written to %s", module, covDir)
	}

	// sancov records return addresses, step back into the call instruction
	pcs := make([]uint64, 0, len(seen))
	for pc := range seen {
		if pc > 0 {
			pc--
		}
		pcs = append(pcs, pc)
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })

	locs, err := r.symbolizer.Symbolize(ctx, r.binPath, pcs)
	if err != nil {
		return nil, err
	}

	hits := make([]slice.Entry, 0, len(locs))
	for _, loc := range locs {
		loc.File = strings.TrimPrefix(loc.File, r.srcPrefix)
		hits = append(hits, slice.Entry{Location: loc, Count: 1})
	}
	return hits, nil
}

// expandCommand substitutes the test case path into the command. Without a
// placeholder the test case is fed on stdin.
func expandCommand(command []string, input string) ([]string, bool) {
	args := make([]string, len(command))
	useStdin := true
	for i, arg := range command {
		if strings.Contains(arg, aflFilePlaceholder) || strings.Contains(arg, aflArgPlaceholder) {
			useStdin = false
			arg = strings.ReplaceAll(arg, aflFilePlaceholder, input)
			arg = strings.ReplaceAll(arg, aflArgPlaceholder, input)
		}
		args[i] = arg
	}
	return args, useStdin
}

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}
