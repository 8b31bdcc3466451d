package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a mailbox or message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid identifier is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrEmptyPayload is returned when a message payload is empty.
	ErrEmptyPayload = errors.New("store: empty payload")

	// ErrPayloadTooLarge is returned when a message payload exceeds the
	// configured maximum size.
	ErrPayloadTooLarge = errors.New("store: payload too large")

	// ErrEmptyKeyHash is returned when a public key hash is empty.
	ErrEmptyKeyHash = errors.New("store: empty public key hash")

	// ErrMailboxExpired is returned when an operation requires a live
	// mailbox but the mailbox has passed its expiry.
	ErrMailboxExpired = errors.New("store: mailbox expired")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrInvalidExpiry is returned when a record's expiry does not lie
	// strictly after its creation time.
	ErrInvalidExpiry = errors.New("store: expiry not after creation")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
