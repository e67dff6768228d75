package main

import (
	aflsancov "afl-sancov"
	"afl-sancov/config"
	"afl-sancov/internal/coverage"
	"afl-sancov/internal/deltadiff"
	"afl-sancov/internal/publish"
	"afl-sancov/internal/report"
	"afl-sancov/internal/types"
	"afl-sancov/pkg/database"
	"afl-sancov/pkg/logger"
	"afl-sancov/pkg/metrics"
	"afl-sancov/pkg/mq"
	"afl-sancov/pkg/telemetry"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

// parseArgs returns nil options when the invocation only asked for help or
// the version, which have already been printed to stdout.
func parseArgs(args []string, stdout io.Writer) (*config.Options, error) {
	var opts config.Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "afl-sancov"
	parser.Usage = "[OPTIONS]\n\n" +
		"Localizes AFL crashes by diffing the sanitizer coverage of each crashing\n" +
		"input against the coverage of the queue entries it was mutated from."

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return nil, nil
		}
		return nil, &types.ConfigError{Field: "arguments", Reason: err.Error()}
	}
	if opts.Version {
		fmt.Fprintf(stdout, "afl-sancov %s\n", aflsancov.Version())
		return nil, nil
	}
	return &opts, nil
}

func newApp(cfg *config.AppConfig, exitCode *int) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewLogger,           // inject logger
			telemetry.NewTelemetry,     // inject telemetry, nil without an OTLP endpoint
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			database.NewDBConnection,   // inject db connection, nil without DATABASE_URL
			database.NewRedisClient,    // inject redis client, nil without REDIS_URL
			mq.NewRabbitMQ,             // inject rabbitmq service, nil without RABBITMQ_URL
			metrics.NewMetrics,
			report.NewWriter,
			deltadiff.NewEngine,
			fx.Annotate(coverage.NewLLVMSymbolizer, fx.As(new(coverage.Symbolizer))),
			fx.Annotate(coverage.NewSancovRunner, fx.As(new(coverage.Runner))),
			fx.Annotate(publish.NewFanout, fx.As(new(report.Publisher))),
		),
		publish.Sinks,
		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, engine *deltadiff.Engine, log *zap.Logger) {
			runEngine(lc, shutdowner, engine, log, exitCode)
		}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
}

// runEngine starts the run once the application is up and shuts the
// application down when the run ends. Stopping the application early
// cancels the run and waits for it.
func runEngine(lc fx.Lifecycle, shutdowner fx.Shutdowner, engine *deltadiff.Engine, log *zap.Logger, exitCode *int) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				summary, err := engine.Run(ctx)
				if err != nil {
					fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
					*exitCode = 1
				} else {
					fmt.Printf("%s: processed %d, skipped %d, failed %d\n",
						summary.Mode, summary.Processed, summary.Skipped, summary.Failed)
				}
				if err := shutdowner.Shutdown(fx.ExitCode(*exitCode)); err != nil {
					log.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
		os.Exit(1)
	}
	if opts == nil {
		return
	}

	cfg, err := config.LoadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
		os.Exit(1)
	}

	exitCode := 0
	app := newApp(cfg, &exitCode)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
		os.Exit(1)
	}

	sig := <-app.Wait()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "afl-sancov: %v\n", err)
	}
	if sig.ExitCode != 0 {
		exitCode = sig.ExitCode
	}
	os.Exit(exitCode)
}
