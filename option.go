package relay

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/relay/store"
)

// Default configuration values.
const (
	// DefaultMaxPayloadSize caps inbound ciphertext at 1 MiB.
	DefaultMaxPayloadSize = 1 << 20

	// DefaultInlineThreshold is the payload size above which content is
	// written to the payload store instead of the message record. Zero
	// keeps everything inline; the default matches the payload cap so
	// offload is opt-in via WithInlineThreshold.
	DefaultInlineThreshold = DefaultMaxPayloadSize

	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// DefaultMaxConcurrentSends bounds concurrent send operations.
	DefaultMaxConcurrentSends = 64
)

// ReceivePolicy controls what happens to messages when they are received.
type ReceivePolicy int

const (
	// DrainOnReceive removes messages from the mailbox as they are
	// delivered. Each message is delivered at most once. This is the
	// default.
	DrainOnReceive ReceivePolicy = iota

	// RetainOnReceive leaves messages queued after delivery. Messages
	// remain until they expire or are drained.
	RetainOnReceive
)

// options holds relay configuration.
type options struct {
	store    store.Store
	payloads store.PayloadStore
	logger   *slog.Logger

	plugins []Plugin

	// Lifetime policy
	expiry store.ExpiryPolicy

	// Payload limits
	maxPayloadSize  int
	inlineThreshold int

	// Receive behaviour
	receivePolicy ReceivePolicy

	// Admission hardening: when set, sends verify the target mailbox is
	// live before queueing. Off by default; senders are never told
	// whether a mailbox exists.
	strictAdmission bool

	// Concurrency limits
	maxConcurrentSends int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		expiry:             store.DefaultExpiryPolicy(),
		maxPayloadSize:     DefaultMaxPayloadSize,
		inlineThreshold:    DefaultInlineThreshold,
		receivePolicy:      DrainOnReceive,
		maxConcurrentSends: DefaultMaxConcurrentSends,
		shutdownTimeout:    DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Offloading above the payload cap would never trigger.
	if o.inlineThreshold > o.maxPayloadSize {
		o.inlineThreshold = o.maxPayloadSize
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a relay service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithPayloadStore sets the blob backend for oversized payloads.
// Messages larger than the inline threshold are written here and the
// message record carries a URI instead of the ciphertext.
func WithPayloadStore(p store.PayloadStore) Option {
	return func(o *options) {
		if p != nil {
			o.payloads = p
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Plugin Options ---

// WithPlugin registers a plugin with the relay service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Lifetime Options ---

// WithMailboxTTL sets how long new mailboxes live.
// Default is 30 days.
func WithMailboxTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.expiry.MailboxTTL = d
		}
	}
}

// WithMessageTTL sets how long queued messages live.
// Default is 24 hours.
func WithMessageTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.expiry.MessageTTL = d
		}
	}
}

// --- Payload Options ---

// WithMaxPayloadSize sets the maximum payload size in bytes.
// Default is 1 MiB.
func WithMaxPayloadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPayloadSize = n
		}
	}
}

// WithInlineThreshold sets the payload size above which content is
// offloaded to the payload store. Has no effect unless a payload store
// is configured via WithPayloadStore.
func WithInlineThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inlineThreshold = n
		}
	}
}

// --- Receive Options ---

// WithReceivePolicy sets what happens to messages on receive.
// Default is DrainOnReceive.
func WithReceivePolicy(p ReceivePolicy) Option {
	return func(o *options) {
		o.receivePolicy = p
	}
}

// --- Admission Options ---

// WithStrictAdmission makes sends verify the target mailbox is live
// before queueing. By default sends accept messages for any well-formed
// mailbox id without checking existence, so a sender cannot probe which
// identifiers are active. Enable only when that trade-off is acceptable.
func WithStrictAdmission(enabled bool) Option {
	return func(o *options) {
		o.strictAdmission = enabled
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry and
// event bus naming. Default is "relay".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSends sets the maximum number of concurrent send
// operations. Default is 64.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight
// operations during graceful shutdown.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures
// should cause the operation to fail. By default failures are logged
// but the operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable delivery.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
