package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironsheep/visionstruct-mcp/internal/protocol"
	"github.com/ironsheep/visionstruct-mcp/internal/session"
)

// Metric names.
const (
	MetricSessionsOpened  = "visionstruct.sessions.opened"
	MetricSessionsActive  = "visionstruct.sessions.active"
	MetricSessionDuration = "visionstruct.session.duration"
	MetricToolInvocations = "visionstruct.tool.invocations"
	MetricToolLatency     = "visionstruct.tool.latency"
)

// Observer records session and tool signals into OpenTelemetry.
type Observer struct {
	tracer trace.Tracer

	opened      metric.Int64Counter
	active      metric.Int64UpDownCounter
	lifetime    metric.Float64Histogram
	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewObserver creates an observer bound to the provided meter and tracer.
// A nil tracer disables spans.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	opened, err := meter.Int64Counter(
		MetricSessionsOpened,
		metric.WithDescription("Number of sessions opened"),
	)
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter(
		MetricSessionsActive,
		metric.WithDescription("Number of currently open sessions"),
	)
	if err != nil {
		return nil, err
	}
	lifetime, err := meter.Float64Histogram(
		MetricSessionDuration,
		metric.WithDescription("Session lifetime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	invocations, err := meter.Int64Counter(
		MetricToolInvocations,
		metric.WithDescription("Number of tool invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		MetricToolLatency,
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:      tracer,
		opened:      opened,
		active:      active,
		lifetime:    lifetime,
		invocations: invocations,
		latency:     latency,
	}, nil
}

// SessionOpened records a new session.
func (o *Observer) SessionOpened() {
	if o == nil {
		return
	}
	ctx := context.Background()
	o.opened.Add(ctx, 1)
	o.active.Add(ctx, 1)
}

// SessionClosed records the end of a session.
func (o *Observer) SessionClosed(lifetime time.Duration) {
	if o == nil {
		return
	}
	ctx := context.Background()
	o.active.Add(ctx, -1)
	o.lifetime.Record(ctx, lifetime.Seconds())
}

// StartInvocation opens a span for one tools/call. The returned func records
// the invocation counter and latency and ends the span.
func (o *Observer) StartInvocation(ctx context.Context, tool string) (context.Context, func(protocol.Outcome, error)) {
	if o == nil {
		return ctx, func(protocol.Outcome, error) {}
	}

	start := time.Now()
	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "tools/call "+tool,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("tool_name", tool)))
	}

	return ctx, func(outcome protocol.Outcome, err error) {
		attrs := []attribute.KeyValue{
			attribute.String("tool_name", tool),
			attribute.String("outcome", string(outcome)),
		}
		options := metric.WithAttributes(attrs...)
		o.invocations.Add(ctx, 1, options)
		o.latency.Record(ctx, time.Since(start).Seconds(), options)

		if span == nil {
			return
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome != protocol.OutcomeSuccess {
			if err != nil {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, string(outcome))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

var (
	_ session.Observer  = (*Observer)(nil)
	_ protocol.Observer = (*Observer)(nil)
)
