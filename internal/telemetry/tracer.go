// Package telemetry wires the OpenTelemetry SDK's tracer provider to an
// OTLP/HTTP exporter, grounded on tombee-conductor's
// internal/tracing/otel.go (resource.Merge + TracerProvider
// construction), adapted from that repo's Prometheus metrics exporter
// to the OTLP/HTTP trace exporter this module's go.mod actually carries
// (github.com/celerity/runtime-go's dependency set favors
// otlptracehttp over the OTel-native Prometheus bridge; Prometheus
// metrics are served directly by internal/metrics instead). The OTLP
// collector endpoint itself is a consumed collaborator per spec.md §1.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls exporter construction. Endpoint is typically sourced
// from CELERITY_TRACE_OTLP_COLLECTOR_ENDPOINT (spec.md §6); an empty
// Endpoint means tracing runs with an in-process no-op exporter chain
// (spans are created but never shipped). CELERITY_TEST_MODE does not
// affect this choice.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
}

// Provider wraps the SDK's TracerProvider with the runtime's shutdown
// and tracer-lookup surface. It is process-wide, initialised once at
// startup and torn down on shutdown per spec.md §9's "global mutable
// state" policy.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New constructs and installs the global tracer provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: building OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Tracer returns a named tracer from the installed provider.
func (p *Provider) Tracer(name string) trace.Tracer { return p.tp.Tracer(name) }

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error { return p.tp.Shutdown(ctx) }
