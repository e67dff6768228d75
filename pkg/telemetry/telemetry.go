package telemetry

import (
	aflsancov "afl-sancov"
	"afl-sancov/config"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type otlpTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry ships spans and log records of a run to the OTLP collector
// at Sinks.OTLPEndpoint. Without an endpoint it returns nil and every
// tracer falls back to DummyTracer.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	endpoint := p.Config.Sinks.OTLPEndpoint
	if endpoint == "" {
		return nil, nil
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(p.Config.ServiceName),
		semconv.ServiceVersionKey.String(aflsancov.Version()),
	)

	exportCtx, cancel := context.WithCancel(context.Background())
	spans, err := newTraceProvider(exportCtx, endpoint, res)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set up span export to %s: %w", endpoint, err)
	}
	otel.SetTracerProvider(spans)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &otlpTelemetry{tracer: spans.Tracer(p.Config.ServiceName)}

	// log export is optional; spans alone are still useful
	records, err := newLogProvider(exportCtx, endpoint, res)
	if err == nil {
		t.logger = records.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			errs := []error{spans.Shutdown(ctx)}
			if records != nil {
				errs = append(errs, records.Shutdown(ctx))
			}
			return errors.Join(errs...)
		},
	})
	return t, nil
}

func newTraceProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newLogProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

func (t *otlpTelemetry) GetTracer() trace.Tracer {
	return t.tracer
}

func (t *otlpTelemetry) GetLogger() log.Logger {
	return t.logger
}
