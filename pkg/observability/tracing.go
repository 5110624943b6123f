// Package observability wires OpenTelemetry tracing for the pipeline. The
// orchestrator opens one span per run and a child span per stage; the default
// exporter writes spans to stdout for development use.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/companyatlas/atlas/pkg/errors"
)

// Config controls the tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate in [0, 1]. 0 disables tracing, 1 samples everything.
	SamplingRate float64
	BatchTimeout time.Duration
}

// DefaultConfig returns a development tracing configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "atlas",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		BatchTimeout:   5 * time.Second,
	}
}

var (
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	initOnce sync.Once
)

// Init sets up the global tracer provider. Safe to call more than once; only
// the first call takes effect.
func Init(cfg Config) error {
	var initErr error
	initOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(cfg.ServiceVersion),
				semconv.DeploymentEnvironmentKey.String(cfg.Environment),
			),
		)
		if err != nil {
			initErr = errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
			return
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout exporter")
			return
		}

		var sampler sdktrace.Sampler
		switch {
		case cfg.SamplingRate <= 0:
			sampler = sdktrace.NeverSample()
		case cfg.SamplingRate >= 1.0:
			sampler = sdktrace.AlwaysSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		)
		otel.SetTracerProvider(provider)
		tracer = provider.Tracer(cfg.ServiceName)
	})
	return initErr
}

// Tracer returns the pipeline tracer. Before Init it returns a no-op tracer,
// so instrumented code never has to check.
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("atlas")
	}
	return tracer
}

// StartSpan opens a span named after a pipeline operation.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Shutdown flushes buffered spans. Called on process exit.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	if err := provider.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to shut down tracer provider")
	}
	return nil
}
