package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config contains the observability configuration of one invocation
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Trace exports every span to TraceWriter (stderr when nil)
	Trace       bool
	TraceWriter io.Writer
	// MetricsFile receives the registry in prometheus text format on shutdown
	MetricsFile string
}

// DefaultConfig returns a configuration with tracing and metrics disabled
func DefaultConfig() Config {
	return Config{
		ServiceName:    "datatoolset",
		ServiceVersion: "dev",
	}
}

// Provider owns the tracer provider and the metrics destination of a run
type Provider struct {
	config Config
	tp     *sdktrace.TracerProvider
	logger *zap.Logger
}

// Initialize sets up tracing and metrics. Shutdown must be called before exit
// to flush spans and write the metrics file.
func Initialize(config Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{config: config, logger: logger}

	if !config.Trace {
		tracer = noop.NewTracerProvider().Tracer(config.ServiceName)
		return p, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	w := config.TraceWriter
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	// one short-lived process: export synchronously so nothing is lost at exit
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(p.tp)
	tracer = p.tp.Tracer(config.ServiceName)
	return p, nil
}

// Shutdown flushes spans, logs process memory and writes the metrics file
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}

	if rss, err := RecordProcessMemory(); err == nil {
		p.logger.Debug("process memory", zap.Uint64("rss_bytes", rss))
	}

	if p.config.MetricsFile != "" {
		if err := WriteMetrics(p.config.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
