package store

import (
	"sort"
	"time"
)

// Mailbox is an anonymous rotating inbox. It is scoped to the hash of the
// owner's public key; one key hash may own any number of mailboxes, which
// is what makes rotation possible. Expiry is fixed at creation and never
// extended.
type Mailbox struct {
	ID            string    `db:"id" bson:"_id" json:"id"`
	PublicKeyHash string    `db:"public_key_hash" bson:"public_key_hash" json:"public_key_hash"`
	CreatedAt     time.Time `db:"created_at" bson:"created_at" json:"created_at"`
	ExpiresAt     time.Time `db:"expires_at" bson:"expires_at" json:"expires_at"`
}

// Validate checks the structural invariants of a mailbox record.
func (m *Mailbox) Validate() error {
	if !IsValidID(m.ID) {
		return ErrInvalidID
	}
	if m.PublicKeyHash == "" {
		return ErrEmptyKeyHash
	}
	if !m.ExpiresAt.After(m.CreatedAt) {
		return ErrInvalidExpiry
	}
	return nil
}

// EncryptedMessage is an opaque encrypted blob queued for a recipient
// mailbox. The relay never inspects or transforms Payload; clients own
// encryption and decryption entirely.
//
// RecipientMailbox need not reference a live (or even existing) mailbox.
// Admission does not validate the target - a message sent to an unknown
// mailbox id simply expires unretrieved. See the relay package for the
// optional strict-admission mode.
//
// PayloadURI is set instead of Payload when the blob has been offloaded to
// an external payload store; the relay resolves it back before returning
// the message to a caller.
type EncryptedMessage struct {
	ID               string    `db:"id" bson:"_id" json:"id"`
	RecipientMailbox string    `db:"recipient_mailbox" bson:"recipient_mailbox" json:"recipient_mailbox"`
	Payload          []byte    `db:"payload" bson:"payload,omitempty" json:"payload,omitempty"`
	PayloadURI       string    `db:"payload_uri" bson:"payload_uri,omitempty" json:"payload_uri,omitempty"`
	CreatedAt        time.Time `db:"created_at" bson:"created_at" json:"created_at"`
	ExpiresAt        time.Time `db:"expires_at" bson:"expires_at" json:"expires_at"`
}

// Validate checks the structural invariants of a message record.
func (m *EncryptedMessage) Validate() error {
	if !IsValidID(m.ID) || !IsValidID(m.RecipientMailbox) {
		return ErrInvalidID
	}
	if len(m.Payload) == 0 && m.PayloadURI == "" {
		return ErrEmptyPayload
	}
	if !m.ExpiresAt.After(m.CreatedAt) {
		return ErrInvalidExpiry
	}
	return nil
}

// AnonymousUser anchors a public key hash to a first-contact record.
// No real identity is ever stored - only the hash, which the relay treats
// as an opaque string. Users are created on first contact and LastSeen is
// touched on every key-hash-authenticated action. They are never garbage
// collected.
type AnonymousUser struct {
	ID            string    `db:"id" bson:"_id" json:"id"`
	PublicKeyHash string    `db:"public_key_hash" bson:"public_key_hash" json:"public_key_hash"`
	CreatedAt     time.Time `db:"created_at" bson:"created_at" json:"created_at"`
	LastSeen      time.Time `db:"last_seen" bson:"last_seen" json:"last_seen"`
}

// RelayStats is a point-in-time snapshot of relay load.
type RelayStats struct {
	// ActiveMailboxes is the number of live (unexpired) mailboxes.
	ActiveMailboxes int64 `json:"active_mailboxes"`
	// QueuedMessages is the number of live messages awaiting pickup.
	QueuedMessages int64 `json:"queued_messages"`
}

// SortMessages orders messages by creation time ascending, ties broken by
// identifier. This is the delivery order contract: receive always returns
// messages in the order they were sent, regardless of storage insertion
// order, and the tiebreak keeps the order stable across backends.
func SortMessages(msgs []EncryptedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
