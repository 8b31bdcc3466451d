package relay

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/relay/store"
)

// Sentinel errors for the relay package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, relay.ErrNotFound) will match both relay-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a mailbox cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("relay: %w", store.ErrNotFound)

	// ErrInvalidID is returned when a mailbox identifier is malformed.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("relay: %w", store.ErrInvalidID)

	// ErrEmptyPayload is returned when a message payload is empty.
	// Wraps store.ErrEmptyPayload for consistent error checking.
	ErrEmptyPayload = fmt.Errorf("relay: %w", store.ErrEmptyPayload)

	// ErrPayloadTooLarge is returned when a payload exceeds the configured cap.
	// Wraps store.ErrPayloadTooLarge for consistent error checking.
	ErrPayloadTooLarge = fmt.Errorf("relay: %w", store.ErrPayloadTooLarge)

	// ErrEmptyKeyHash is returned when a public key hash is empty.
	// Wraps store.ErrEmptyKeyHash for consistent error checking.
	ErrEmptyKeyHash = fmt.Errorf("relay: %w", store.ErrEmptyKeyHash)

	// ErrMailboxExpired is returned when a mailbox exists but its expiry
	// has passed. Wraps store.ErrMailboxExpired.
	ErrMailboxExpired = fmt.Errorf("relay: %w", store.ErrMailboxExpired)

	// ErrInvalidExpiry is returned when a message expiry is not after its
	// creation time. Wraps store.ErrInvalidExpiry.
	ErrInvalidExpiry = fmt.Errorf("relay: %w", store.ErrInvalidExpiry)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("relay: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("relay: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("relay: %w", store.ErrAlreadyConnected)

	// ErrPayloadStoreNotConfigured is returned when a message references an
	// external payload but no payload store is configured.
	ErrPayloadStoreNotConfigured = errors.New("relay: payload store not configured")
)

// EventPublishError is returned when eventErrorsFatal is set and an event
// fails to publish. The underlying operation succeeded; only the event
// was lost.
type EventPublishError struct {
	// Event is the name of the event that failed.
	Event string
	// MessageID is the id of the message involved, if any.
	MessageID string
	// Err is the underlying publish error.
	Err error
}

func (e *EventPublishError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("relay: publish %s for message %s: %s", e.Event, e.MessageID, e.Err)
	}
	return fmt.Sprintf("relay: publish %s: %s", e.Event, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// wrapStoreError maps store-level sentinel errors to their relay-level
// counterparts so callers only ever see relay errors. Unknown errors
// pass through unchanged.
func wrapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrMailboxExpired):
		return ErrMailboxExpired
	case errors.Is(err, store.ErrInvalidID):
		return ErrInvalidID
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	default:
		return err
	}
}

// IsNotFound reports whether err indicates a missing mailbox.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// IsMailboxExpired reports whether err indicates an expired mailbox.
func IsMailboxExpired(err error) bool {
	return errors.Is(err, store.ErrMailboxExpired)
}

// IsInvalidID reports whether err indicates a malformed identifier.
func IsInvalidID(err error) bool {
	return errors.Is(err, store.ErrInvalidID)
}

// IsNotConnected reports whether err indicates the service or store is
// not connected.
func IsNotConnected(err error) bool {
	return errors.Is(err, store.ErrNotConnected)
}
