// Package publish forwards persisted reports and run summaries to the
// optional sinks: PostgreSQL, Redis and RabbitMQ.
package publish

import (
	"afl-sancov/internal/report"
	"afl-sancov/internal/types"
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sinks provides every sink to the "publishers" group consumed by
// NewFanout. Sinks whose connection is not configured resolve to nil.
var Sinks = fx.Options(
	fx.Provide(
		fx.Annotate(NewDBPublisher, fx.As(new(report.Publisher)), fx.ResultTags(`group:"publishers"`)),
		fx.Annotate(NewRedisPublisher, fx.As(new(report.Publisher)), fx.ResultTags(`group:"publishers"`)),
		fx.Annotate(NewMQPublisher, fx.As(new(report.Publisher)), fx.ResultTags(`group:"publishers"`)),
	),
)

// Fanout publishes to every configured sink. A failing sink does not stop
// the others.
type Fanout struct {
	publishers []report.Publisher
	logger     *zap.Logger
}

type FanoutParams struct {
	fx.In
	Logger     *zap.Logger
	Publishers []report.Publisher `group:"publishers"`
}

func NewFanout(p FanoutParams) *Fanout {
	f := &Fanout{logger: p.Logger.Named("publish")}
	for _, pub := range p.Publishers {
		if pub == nil {
			continue
		}
		if v := reflect.ValueOf(pub); v.Kind() == reflect.Ptr && v.IsNil() {
			continue // skip unconfigured sink
		}
		f.logger.Debug("sink registered", zap.String("sink", pub.Name()))
		f.publishers = append(f.publishers, pub)
	}
	return f
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Len() int { return len(f.publishers) }

func (f *Fanout) PublishReport(ctx context.Context, msg *types.ReportMessage, body []byte) error {
	var errs []error
	for _, pub := range f.publishers {
		if err := pub.PublishReport(ctx, msg, body); err != nil {
			f.logger.Warn("failed to publish report",
				zap.String("sink", pub.Name()),
				zap.String("input", msg.CrashingInput),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) PublishSummary(ctx context.Context, summary *types.RunSummary) error {
	var errs []error
	for _, pub := range f.publishers {
		if err := pub.PublishSummary(ctx, summary); err != nil {
			f.logger.Warn("failed to publish run summary", zap.String("sink", pub.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}
