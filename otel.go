package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/relay"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the relay service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	sendLatency    metric.Float64Histogram
	sendCount      metric.Int64Counter
	sendErrors     metric.Int64Counter
	receiveLatency metric.Float64Histogram
	receiveCount   metric.Int64Counter
	receiveErrors  metric.Int64Counter
	createLatency  metric.Float64Histogram
	createCount    metric.Int64Counter
	createErrors   metric.Int64Counter
	cleanupLatency metric.Float64Histogram
	cleanupCount   metric.Int64Counter
	cleanupErrors  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.sendLatency, err = meter.Float64Histogram(
		"relay.send.duration",
		metric.WithDescription("Duration of send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sendCount, err = meter.Int64Counter(
		"relay.send.count",
		metric.WithDescription("Number of messages queued"),
	)
	if err != nil {
		return err
	}

	o.sendErrors, err = meter.Int64Counter(
		"relay.send.errors",
		metric.WithDescription("Number of send errors"),
	)
	if err != nil {
		return err
	}

	o.receiveLatency, err = meter.Float64Histogram(
		"relay.receive.duration",
		metric.WithDescription("Duration of receive operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.receiveCount, err = meter.Int64Counter(
		"relay.receive.count",
		metric.WithDescription("Number of receive operations"),
	)
	if err != nil {
		return err
	}

	o.receiveErrors, err = meter.Int64Counter(
		"relay.receive.errors",
		metric.WithDescription("Number of receive errors"),
	)
	if err != nil {
		return err
	}

	o.createLatency, err = meter.Float64Histogram(
		"relay.mailbox.create.duration",
		metric.WithDescription("Duration of mailbox creation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.createCount, err = meter.Int64Counter(
		"relay.mailbox.create.count",
		metric.WithDescription("Number of mailboxes created"),
	)
	if err != nil {
		return err
	}

	o.createErrors, err = meter.Int64Counter(
		"relay.mailbox.create.errors",
		metric.WithDescription("Number of mailbox creation errors"),
	)
	if err != nil {
		return err
	}

	o.cleanupLatency, err = meter.Float64Histogram(
		"relay.cleanup.duration",
		metric.WithDescription("Duration of cleanup sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.cleanupCount, err = meter.Int64Counter(
		"relay.cleanup.count",
		metric.WithDescription("Number of cleanup sweeps"),
	)
	if err != nil {
		return err
	}

	o.cleanupErrors, err = meter.Int64Counter(
		"relay.cleanup.errors",
		metric.WithDescription("Number of cleanup errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned function with the operation error.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSend records send operation metrics.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, size int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("payload_size", size),
	)

	o.sendLatency.Record(ctx, duration.Seconds(), attrs)
	o.sendCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sendErrors.Add(ctx, 1, attrs)
	}
}

// recordReceive records receive operation metrics.
func (o *otelInstrumentation) recordReceive(ctx context.Context, duration time.Duration, count int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("message_count", count),
	)

	o.receiveLatency.Record(ctx, duration.Seconds(), attrs)
	o.receiveCount.Add(ctx, 1, attrs)
	if err != nil {
		o.receiveErrors.Add(ctx, 1, attrs)
	}
}

// recordCreate records mailbox creation metrics.
func (o *otelInstrumentation) recordCreate(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.createLatency.Record(ctx, duration.Seconds())
	o.createCount.Add(ctx, 1)
	if err != nil {
		o.createErrors.Add(ctx, 1)
	}
}

// recordCleanup records cleanup sweep metrics.
func (o *otelInstrumentation) recordCleanup(ctx context.Context, duration time.Duration, deleted int64, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int64("deleted", deleted),
	)

	o.cleanupLatency.Record(ctx, duration.Seconds(), attrs)
	o.cleanupCount.Add(ctx, 1, attrs)
	if err != nil {
		o.cleanupErrors.Add(ctx, 1, attrs)
	}
}
