package logger

import (
	"afl-sancov/config"
	"afl-sancov/pkg/telemetry"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	cfg := buildConfig(parseLevel(p.AppConfig.LogLevel))

	if p.Telemetry == nil || p.Telemetry.GetLogger() == nil {
		lg, err := cfg.Build()
		if err != nil {
			return zap.NewExample()
		}
		return lg
	}

	lg, err := cfg.Build(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:      core,
				telem:     p.Telemetry,
				ctx:       loggerCtx,
				attrsBase: []attribute.KeyValue{attribute.String("sancov.action.name", "afl_sancov_log")},
			}
		}),
		zap.AddCaller(),
	)
	if err != nil {
		if lg, err = cfg.Build(); err != nil {
			return zap.NewExample()
		}
		return lg
	}
	lg.Debug("Logger with telemetry enabled")
	return lg
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// buildConfig logs human readable lines to stderr at info and debug level
// and switches to JSON when only warnings and errors are wanted.
func buildConfig(level zapcore.Level) zap.Config {
	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = level > zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}

// telemetryCore mirrors every entry into the OpenTelemetry log pipeline.
type telemetryCore struct {
	zapcore.Core
	telem     telemetry.Telemetry
	ctx       context.Context
	attrsBase []attribute.KeyValue
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:      t.Core.With(fields),
		telem:     t.telem,
		ctx:       t.ctx,
		attrsBase: t.attrsBase,
	}
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())
	for _, attr := range t.attrsBase {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}
	for _, f := range fields {
		rec.AddAttributes(log.KeyValueFromAttribute(fieldAttribute(f)))
	}

	t.telem.GetLogger().Emit(t.ctx, rec)
	return nil
}

func fieldAttribute(f zapcore.Field) attribute.KeyValue {
	switch f.Type {
	case zapcore.StringType:
		return attribute.String(f.Key, f.String)
	case zapcore.ErrorType:
		if errVal, ok := f.Interface.(error); ok {
			return attribute.String(f.Key, errVal.Error())
		}
	}

	enc := zapcore.NewMapObjectEncoder()
	f.AddTo(enc)
	switch v := enc.Fields[f.Key].(type) {
	case bool:
		return attribute.Bool(f.Key, v)
	case int64:
		return attribute.Int64(f.Key, v)
	case int:
		return attribute.Int(f.Key, v)
	case float64:
		return attribute.Float64(f.Key, v)
	case time.Duration:
		return attribute.String(f.Key, v.String())
	default:
		return attribute.String(f.Key, fmt.Sprint(v))
	}
}
