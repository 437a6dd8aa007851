package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// TracerOption configures InitTracer.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	writer  io.Writer
	version string
}

// WithTraceWriter sends exported spans to w instead of stderr.
func WithTraceWriter(w io.Writer) TracerOption {
	return func(o *tracerOptions) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithServiceVersion records the service version on the resource.
func WithServiceVersion(v string) TracerOption {
	return func(o *tracerOptions) { o.version = v }
}

// InitTracer installs a global tracer provider that exports spans with the
// stdout exporter. Spans go to stderr by default so they never interleave
// with JSON logs on stdout.
func InitTracer(serviceName string, logger *slog.Logger, opts ...TracerOption) (ShutdownFunc, error) {
	o := &tracerOptions{writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer))
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if o.version != "" {
		attrs = append(attrs, semconv.ServiceVersion(o.version))
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}
