package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for relay events.
const (
	EventNameMailboxCreated = "relay.mailbox.created"
	EventNameMessageQueued  = "relay.message.queued"
	EventNameMailboxDrained = "relay.mailbox.drained"
)

// MailboxCreatedEvent is published when a new mailbox is registered.
// The payload carries only the rotating identifier and lifetime; the
// owner's key hash never leaves the service.
type MailboxCreatedEvent struct {
	MailboxID string    `json:"mailbox_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MessageQueuedEvent is published after a message is accepted for a
// mailbox. Subscribers can use this to wake long-polling receivers.
type MessageQueuedEvent struct {
	MessageID string    `json:"message_id"`
	MailboxID string    `json:"mailbox_id"`
	Size      int       `json:"size"`
	QueuedAt  time.Time `json:"queued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MailboxDrainedEvent is published after a destructive receive removes
// messages from a mailbox.
type MailboxDrainedEvent struct {
	MailboxID string    `json:"mailbox_id"`
	Count     int       `json:"count"`
	DrainedAt time.Time `json:"drained_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageQueued.Subscribe(ctx, handler)
//	svc.Events().MailboxDrained.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MailboxCreated is published when a mailbox is registered.
	MailboxCreated event.Event[MailboxCreatedEvent]

	// MessageQueued is published when a message is accepted.
	MessageQueued event.Event[MessageQueuedEvent]

	// MailboxDrained is published after a destructive receive.
	MailboxDrained event.Event[MailboxDrainedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MailboxCreated: event.New[MailboxCreatedEvent](namePrefix + "." + EventNameMailboxCreated),
		MessageQueued:  event.New[MessageQueuedEvent](namePrefix + "." + EventNameMessageQueued),
		MailboxDrained: event.New[MailboxDrainedEvent](namePrefix + "." + EventNameMailboxDrained),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MailboxCreated); err != nil {
		return fmt.Errorf("register MailboxCreated: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageQueued); err != nil {
		return fmt.Errorf("register MessageQueued: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailboxDrained); err != nil {
		return fmt.Errorf("register MailboxDrained: %w", err)
	}
	return nil
}
