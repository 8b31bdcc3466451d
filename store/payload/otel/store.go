// Package otel provides OpenTelemetry instrumentation for payload stores.
//
// Wrap any store.PayloadStore (S3, GCS, the caching wrapper) to get
// spans and metrics for blob traffic without touching the backend:
//
//	blobs, _ := s3store.New(ctx, s3store.WithBucket("relay-blobs"))
//	instrumented, _ := otel.New(blobs)
//	svc, _ := relay.NewService(
//	    relay.WithStore(st),
//	    relay.WithPayloadStore(instrumented),
//	)
//
// Payload attributes never include content; only URIs and byte counts
// are recorded.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/relay/store"
)

const instrumentationName = "github.com/rbaliyan/relay/store/payload/otel"

// Store wraps a PayloadStore with OpenTelemetry instrumentation.
type Store struct {
	backend store.PayloadStore
	opts    *options

	tracer trace.Tracer

	putLatency    metric.Float64Histogram
	putCount      metric.Int64Counter
	putBytes      metric.Int64Counter
	putErrors     metric.Int64Counter
	loadLatency   metric.Float64Histogram
	loadCount     metric.Int64Counter
	loadBytes     metric.Int64Counter
	loadErrors    metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
}

// Ensure Store implements PayloadStore.
var _ store.PayloadStore = (*Store)(nil)

// New creates an OTel-instrumented payload store wrapping the given backend.
func New(backend store.PayloadStore, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "relay",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		backend: backend,
		opts:    o,
	}

	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	return s, nil
}

// initMetrics initializes all metric instruments.
func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	s.putLatency, err = meter.Float64Histogram(
		"payload.put.duration",
		metric.WithDescription("Duration of payload put operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.putCount, err = meter.Int64Counter(
		"payload.put.count",
		metric.WithDescription("Number of payload put operations"),
	)
	if err != nil {
		return err
	}
	s.putBytes, err = meter.Int64Counter(
		"payload.put.bytes",
		metric.WithDescription("Total payload bytes stored"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.putErrors, err = meter.Int64Counter(
		"payload.put.errors",
		metric.WithDescription("Number of put errors"),
	)
	if err != nil {
		return err
	}

	s.loadLatency, err = meter.Float64Histogram(
		"payload.load.duration",
		metric.WithDescription("Duration of payload load operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.loadCount, err = meter.Int64Counter(
		"payload.load.count",
		metric.WithDescription("Number of payload load operations"),
	)
	if err != nil {
		return err
	}
	s.loadBytes, err = meter.Int64Counter(
		"payload.load.bytes",
		metric.WithDescription("Total payload bytes loaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.loadErrors, err = meter.Int64Counter(
		"payload.load.errors",
		metric.WithDescription("Number of load errors"),
	)
	if err != nil {
		return err
	}

	s.deleteLatency, err = meter.Float64Histogram(
		"payload.delete.duration",
		metric.WithDescription("Duration of payload delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.deleteCount, err = meter.Int64Counter(
		"payload.delete.count",
		metric.WithDescription("Number of payload delete operations"),
	)
	if err != nil {
		return err
	}
	s.deleteErrors, err = meter.Int64Counter(
		"payload.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Put stores content with tracing and metrics.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("payload.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.opts.tracingEnabled && s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "payload.put",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()

	counting := &countingReader{reader: content}
	uri, err := s.backend.Put(ctx, key, counting)

	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.putLatency.Record(ctx, duration, metricAttrs)
		s.putCount.Add(ctx, 1, metricAttrs)
		s.putBytes.Add(ctx, counting.bytes, metricAttrs)
		if err != nil {
			s.putErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.opts.tracingEnabled && s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("payload.uri", uri),
				attribute.Int64("payload.bytes", counting.bytes),
			)
			span.SetStatus(codes.Ok, "")
		}
	}

	return uri, err
}

// Load returns a reader for the payload content with tracing and metrics.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("payload.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}

	// The span ends when the returned reader is closed.
	var span trace.Span
	if s.opts.tracingEnabled && s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "payload.load",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()

	reader, err := s.backend.Load(ctx, uri)

	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.loadLatency.Record(ctx, duration, metricAttrs)
		s.loadCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.loadErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		reader: reader,
		span:   span,
		store:  s,
		ctx:    ctx,
		attrs:  attrs,
	}, nil
}

// Delete removes the payload with tracing and metrics.
func (s *Store) Delete(ctx context.Context, uri string) error {
	attrs := []attribute.KeyValue{
		attribute.String("payload.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.opts.tracingEnabled && s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "payload.delete",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()

	err := s.backend.Delete(ctx, uri)

	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.deleteLatency.Record(ctx, duration, metricAttrs)
		s.deleteCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.deleteErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.opts.tracingEnabled && s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	return err
}

// countingReader wraps an io.Reader and counts bytes read.
type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

// instrumentedReader wraps an io.ReadCloser with instrumentation.
type instrumentedReader struct {
	reader io.ReadCloser
	span   trace.Span
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()

	if r.store.opts.metricsEnabled {
		r.store.loadBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
	}

	if r.span != nil {
		r.span.SetAttributes(attribute.Int64("payload.bytes", r.bytes))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		} else {
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.End()
	}

	return err
}
