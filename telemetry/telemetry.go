// Package telemetry wires OpenTelemetry tracing for patch runs. Tracing is
// off unless an OTLP endpoint is configured; spans then go to the global
// no-op provider.
package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "classpatch"
	DefaultServiceName = "classpatch"
	shutdownTimeout    = 2 * time.Second
)

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
}

// Init installs a tracer provider exporting over OTLP/HTTP. The returned
// function flushes and shuts it down; it is safe to call when tracing is
// disabled.
func Init(ctx context.Context, config Config) (func(), error) {
	if !config.Enabled || config.Endpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx, exporterOptions(config.Endpoint)...)
	if err != nil {
		return nil, err
	}

	name := config.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	version := config.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// exporterOptions accepts either a full URL or a bare host:port. A bare
// address is assumed to be a local collector speaking plain HTTP.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	}
	return []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	}
}

// Tracer returns the global tracer instance
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}
