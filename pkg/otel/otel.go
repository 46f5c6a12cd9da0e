// Package otel wires OpenTelemetry tracing and Prometheus-backed metrics for
// the toolbelt binaries, and records per-tool call metrics.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/bturcanu/toolbelt/pkg/config"
	"github.com/bturcanu/toolbelt/pkg/tool"
)

type Config struct {
	ServiceName    string
	OTLPEndpoint   string // host:port of an OTLP/HTTP collector
	MetricsEnabled bool
	TracingEnabled bool
}

// ConfigFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, TOOLBELT_TRACING and
// TOOLBELT_METRICS. Tracing is on whenever an endpoint is set.
func ConfigFromEnv(service string) Config {
	endpoint := config.EnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", service),
		OTLPEndpoint:   endpoint,
		TracingEnabled: config.EnvOrBool("TOOLBELT_TRACING", endpoint != ""),
		MetricsEnabled: config.EnvOrBool("TOOLBELT_METRICS", true),
	}
}

// Telemetry is what Setup installed. The zero value records nothing.
type Telemetry struct {
	tracer    *sdktrace.TracerProvider
	metrics   *ToolMetrics
	shutdowns []func(context.Context) error
}

// Setup installs the global tracer and meter providers described by cfg and
// creates the tool call instruments. Metrics are exported in Prometheus
// format on the default registry, so promhttp.Handler serves them.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel.Setup: resource: %w", err)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tel := &Telemetry{}
	if cfg.TracingEnabled && cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel.Setup: trace exporter: %w", err)
		}
		tel.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tel.tracer)
		tel.shutdowns = append(tel.shutdowns, tel.tracer.Shutdown)
	}

	if cfg.MetricsEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("otel.Setup: prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
		otel.SetMeterProvider(mp)
		tel.shutdowns = append(tel.shutdowns, mp.Shutdown)

		if tel.metrics, err = NewToolMetrics(mp); err != nil {
			return nil, err
		}
	}
	return tel, nil
}

// Metrics returns the tool call instruments, or nil when metrics are off.
func (t *Telemetry) Metrics() *ToolMetrics { return t.metrics }

// RegistryOptions points a tool registry at the installed providers: calls
// are traced when tracing is on and counted when metrics are on.
func (t *Telemetry) RegistryOptions() []tool.RegistryOption {
	var opts []tool.RegistryOption
	if t.tracer != nil {
		opts = append(opts, tool.WithTracerProvider(t.tracer))
	}
	if t.metrics != nil {
		opts = append(opts, tool.WithObserver(t.metrics))
	}
	return opts
}

// Shutdown flushes and stops every provider Setup started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
