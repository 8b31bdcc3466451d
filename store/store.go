// Package store provides interfaces and types for relay storage.
// Implementations are in store/memory, store/postgres, store/mongo, and
// store/redis subpackages.
//
// # Architectural Principle: No Distributed Locks
//
// This package is designed to avoid distributed locks entirely. All
// concurrency concerns are handled through:
//
//  1. Atomic Storage Operations: destructive drains use storage-native
//     atomic operations - PostgreSQL's DELETE ... RETURNING inside a CTE,
//     MongoDB's findOneAndDelete claim loop, Redis WATCH/MULTI. Each
//     message is removed by exactly one caller; the storage engine
//     arbitrates, not an external lock service.
//
//  2. Per-Mailbox Exclusion In Process: the in-memory backend holds one
//     mutex per mailbox queue, never a store-wide lock, so traffic on
//     unrelated mailboxes never contends.
//
//  3. Idempotent Sweeps: expiry sweeps are plain bulk deletes keyed on the
//     expiry timestamp. Concurrent sweeps from multiple instances are safe -
//     each record is deleted once and the counts reflect what each caller
//     actually removed.
//
// Example - Concurrent Destructive Drain:
//
//	// WRONG: Distributed lock approach (DO NOT USE)
//	lock.Acquire("drain:" + mailboxID)
//	defer lock.Release()
//	msgs := store.List(mailboxID)
//	store.DeleteAll(mailboxID)
//
//	// CORRECT: Atomic drain
//	msgs, err := store.DrainMessages(ctx, mailboxID, now)
//	// Two concurrent drains partition the queue - no message appears twice.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for the relay. All persistent state lives
// behind it - the relay engine owns no storage of its own.
//
// All operations must be safe for concurrent use. Implementations must use
// storage-level atomicity rather than external locking. See the package
// documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Mailbox operations
	MailboxStore

	// Message admission and retrieval
	MessageStore

	// Anonymous user registry
	UserStore

	// Maintenance operations - for expiry sweeps
	MaintenanceStore

	// Stats operations - aggregate relay load
	StatsStore
}

// MailboxStore provides operations on mailbox records.
type MailboxStore interface {
	// CreateMailbox persists a new mailbox record. The record must pass
	// Validate. There is no uniqueness constraint on the public key hash -
	// one key may own many mailboxes (rotation) - so creation always
	// succeeds absent a storage failure.
	CreateMailbox(ctx context.Context, mb *Mailbox) error

	// GetMailbox retrieves a mailbox by id. Returns ErrNotFound if the
	// mailbox doesn't exist, and ErrMailboxExpired if it exists but its
	// expiry has passed (expired mailboxes are dead for reads even before
	// the sweep removes them).
	GetMailbox(ctx context.Context, id string, now time.Time) (*Mailbox, error)
}

// MessageStore provides admission and retrieval of encrypted messages.
//
// Admission does not verify the target mailbox exists or is live. A message
// queued for a nonexistent or expired mailbox is simply never retrieved and
// expires on its own clock. Callers wanting stricter behavior check the
// mailbox themselves before calling SaveMessage.
type MessageStore interface {
	// SaveMessage persists a message record. The record must pass Validate.
	SaveMessage(ctx context.Context, msg *EncryptedMessage) error

	// ListMessages returns all live messages (ExpiresAt > now) for the
	// mailbox in delivery order (see SortMessages). The messages remain
	// queued. An unknown mailbox yields an empty slice, not an error.
	ListMessages(ctx context.Context, mailboxID string, now time.Time) ([]EncryptedMessage, error)

	// DrainMessages atomically returns and removes all live messages for
	// the mailbox, in delivery order. Concurrent drains of the same mailbox
	// partition the queue: no message is observed by more than one caller,
	// and a send that commits before a drain starts is included in that
	// drain's result. An unknown mailbox yields an empty slice. On failure,
	// any messages already removed are returned alongside the error so the
	// caller can restore or deliver them - they must not be dropped.
	DrainMessages(ctx context.Context, mailboxID string, now time.Time) ([]EncryptedMessage, error)
}

// UserStore maintains the anonymous user registry.
type UserStore interface {
	// TouchUser upserts the AnonymousUser for a public key hash: created on
	// first contact, LastSeen set to now on every call. The upsert must be
	// atomic - concurrent first contacts for the same hash yield one record.
	TouchUser(ctx context.Context, publicKeyHash string, now time.Time) (*AnonymousUser, error)
}

// MaintenanceStore provides operations for expiry sweeps. These are
// designed to be safely called concurrently from multiple relay instances
// without distributed coordination - the storage engine arbitrates, and
// each record is deleted exactly once.
type MaintenanceStore interface {
	// DeleteExpiredMessages removes all messages with ExpiresAt < now and
	// returns the number removed. On partial failure it returns the count
	// actually deleted along with the error.
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error)

	// DeleteExpiredMailboxes removes all mailboxes with ExpiresAt < now
	// and returns the number removed. Mailbox deletion does not cascade to
	// messages - messages expire independently on their own clock.
	DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int64, error)

	// ListExpiredPayloadURIs returns the payload URIs of expired messages
	// whose blobs were offloaded to an external payload store. The relay
	// calls this before DeleteExpiredMessages so it can release the blobs
	// after the records are gone.
	ListExpiredPayloadURIs(ctx context.Context, now time.Time) ([]string, error)
}

// StatsStore provides aggregate relay load statistics.
type StatsStore interface {
	// Stats returns the number of live mailboxes and queued live messages
	// at now. The snapshot is approximate under concurrent traffic.
	Stats(ctx context.Context, now time.Time) (*RelayStats, error)
}
