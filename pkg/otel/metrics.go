package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bturcanu/toolbelt/pkg/tool"
)

const meterName = "github.com/bturcanu/toolbelt"

// ToolMetrics records toolbelt.tool.calls and toolbelt.tool.duration for
// every registry call. It implements tool.Observer.
type ToolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewToolMetrics creates the instruments on mp, or on the global provider
// when mp is nil.
func NewToolMetrics(mp metric.MeterProvider) (*ToolMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	calls, err := meter.Int64Counter("toolbelt.tool.calls",
		metric.WithDescription("Tool invocations by tool, vendor and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel.NewToolMetrics: calls counter: %w", err)
	}
	duration, err := meter.Float64Histogram("toolbelt.tool.duration",
		metric.WithDescription("Tool call latency including vendor round trips."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("otel.NewToolMetrics: duration histogram: %w", err)
	}
	return &ToolMetrics{calls: calls, duration: duration}, nil
}

func (m *ToolMetrics) ObserveCall(ctx context.Context, t tool.Tool, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tool", t.Name),
		attribute.String("vendor", t.Vendor),
		attribute.String("outcome", tool.Outcome(err)),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
