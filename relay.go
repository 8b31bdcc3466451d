package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/rbaliyan/relay/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the relay package without importing
// store directly.
type (
	Mailbox          = store.Mailbox
	EncryptedMessage = store.EncryptedMessage
	AnonymousUser    = store.AnonymousUser
	RelayStats       = store.RelayStats
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// MailboxRegistrar manages mailbox lifecycle.
type MailboxRegistrar interface {
	// CreateMailbox registers a fresh mailbox bound to the given public
	// key hash and returns it. Clients rotate identity by calling this
	// again; old mailboxes keep working until they expire.
	CreateMailbox(ctx context.Context, publicKeyHash string) (*Mailbox, error)
	// GetMailbox returns a live mailbox by id. Returns ErrNotFound for
	// unknown ids and ErrMailboxExpired for known-but-dead ones.
	GetMailbox(ctx context.Context, mailboxID string) (*Mailbox, error)
}

// MessageSender queues encrypted payloads for a mailbox.
type MessageSender interface {
	// SendMessage queues an opaque encrypted payload for the mailbox
	// using the configured message TTL.
	SendMessage(ctx context.Context, mailboxID string, payload []byte) (*EncryptedMessage, error)
	// SendMessageWithExpiry queues a payload with an explicit expiry.
	// The expiry must be in the future.
	SendMessageWithExpiry(ctx context.Context, mailboxID string, payload []byte, expiresAt time.Time) (*EncryptedMessage, error)
}

// MessageReceiver delivers queued messages to the mailbox owner.
type MessageReceiver interface {
	// ReceiveMessages returns the live messages queued for a mailbox in
	// delivery order. Under the default DrainOnReceive policy the
	// messages are removed as they are returned; a second call returns
	// nothing. An unknown mailbox yields an empty result, not an error.
	ReceiveMessages(ctx context.Context, mailboxID string) ([]EncryptedMessage, error)
}

// Maintainer runs expiry sweeps and reports relay health numbers.
type Maintainer interface {
	// Cleanup removes expired messages and mailboxes and releases any
	// externally stored payload blobs. Call it periodically from your
	// application's scheduler; concurrent sweeps are safe. A sweep that
	// fails partway returns the counts actually deleted with the error.
	Cleanup(ctx context.Context) (*CleanupResult, error)
	// Stats reports live mailbox and queued message counts.
	Stats(ctx context.Context) (*RelayStats, error)
}

// Service is the anonymous message relay.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - MailboxRegistrar: Mailbox lifecycle (CreateMailbox, GetMailbox)
//   - MessageSender: Payload admission (SendMessage, SendMessageWithExpiry)
//   - MessageReceiver: Delivery (ReceiveMessages)
//   - Maintainer: Expiry sweeps and stats (Cleanup, Stats)
type Service interface {
	ServiceHealth
	MailboxRegistrar
	MessageSender
	MessageReceiver
	Maintainer

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections after draining in-flight sends.
	Close(ctx context.Context) error
	// Events returns per-service event instances for subscribing and
	// publishing. Each service has its own events bound to its own
	// event bus, enabling independent routing and parallel testing.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	payloads store.PayloadStore
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted // Limits concurrent sends
	eventBus *event.Bus
	events   *ServiceEvents
	clock    func() time.Time
}

// NewService creates a new relay service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:    o.store,
		payloads: o.payloads,
		logger:   o.logger,
		opts:     o,
		plugins:  plugins,
		otel:     otelInstr,
		sendSem:  semaphore.NewWeighted(int64(o.maxConcurrentSends)),
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// checkConnected verifies the service is ready for operations.
func (s *service) checkConnected() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition prevents operations from seeing partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		if closeErr := s.store.Close(ctx); closeErr != nil {
			s.logger.Error("failed to close store during connect rollback", "error", closeErr)
		}
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		if closeErr := s.eventBus.Close(ctx); closeErr != nil {
			s.logger.Error("failed to close event bus during connect rollback", "error", closeErr)
		}
		if closeErr := s.store.Close(ctx); closeErr != nil {
			s.logger.Error("failed to close store during connect rollback", "error", closeErr)
		}
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("relay service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "relay"
	}
	// Each bus needs a unique name, so append a counter suffix.
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight sends to finish. New sends cannot start because
	// checkConnected now fails; acquiring all semaphore slots waits for
	// the rest.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
		s.logger.Info("all in-flight operations completed")
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Close the event bus only for real transports. The noop bus holds
	// no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}
