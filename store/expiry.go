package store

import "time"

// Default retention periods.
//
// These match the service's public retention policy: mailboxes rotate on a
// monthly cadence, messages are picked up within a day or never.
const (
	// DefaultMailboxTTL is the default lifetime of a mailbox.
	DefaultMailboxTTL = 30 * 24 * time.Hour // 30 days

	// DefaultMessageTTL is the default lifetime of a queued message.
	DefaultMessageTTL = 24 * time.Hour // 24 hours
)

// ExpiryPolicy computes record expiries and decides liveness. All methods
// are pure given now, so admission-time and sweep-time definitions of
// "expired" cannot drift apart.
type ExpiryPolicy struct {
	// MailboxTTL is added to a mailbox's creation time to produce its expiry.
	MailboxTTL time.Duration
	// MessageTTL is added to a message's creation time to produce its expiry.
	MessageTTL time.Duration
}

// DefaultExpiryPolicy returns the policy with standard retention periods.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		MailboxTTL: DefaultMailboxTTL,
		MessageTTL: DefaultMessageTTL,
	}
}

// MailboxExpiry returns the expiry for a mailbox created at now.
func (p ExpiryPolicy) MailboxExpiry(now time.Time) time.Time {
	return now.Add(p.MailboxTTL)
}

// MessageExpiry returns the expiry for a message created at now.
func (p ExpiryPolicy) MessageExpiry(now time.Time) time.Time {
	return now.Add(p.MessageTTL)
}

// IsLive reports whether a record with the given expiry is still live at now.
// A record is live strictly before its expiry; at the expiry instant it is dead.
func IsLive(expiresAt, now time.Time) bool {
	return expiresAt.After(now)
}
