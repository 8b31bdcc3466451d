package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/relay/store"
)

// SaveMessage queues a message for its recipient mailbox.
// The target mailbox is not checked - admission to an unknown or expired
// mailbox succeeds and the message simply expires unretrieved.
func (s *Store) SaveMessage(_ context.Context, msg *store.EncryptedMessage) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	rec := *msg
	rec.Payload = append([]byte(nil), msg.Payload...)

	q := s.getQueue(rec.RecipientMailbox)
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, rec)
	return nil
}

// ListMessages returns all live messages for the mailbox without removing them.
func (s *Store) ListMessages(_ context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	q := s.loadQueue(mailboxID)
	if q == nil {
		return []store.EncryptedMessage{}, nil
	}
	defer q.mu.Unlock()

	live := make([]store.EncryptedMessage, 0, len(q.msgs))
	for _, m := range q.msgs {
		if store.IsLive(m.ExpiresAt, now) {
			live = append(live, m)
		}
	}
	store.SortMessages(live)
	return live, nil
}

// DrainMessages atomically returns and removes all live messages for the
// mailbox. The queue mutex is held across the read-and-clear, so a message
// is observed by at most one drain and a send that committed before the
// drain started is always included.
func (s *Store) DrainMessages(_ context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	q := s.loadQueue(mailboxID)
	if q == nil {
		return []store.EncryptedMessage{}, nil
	}
	defer q.mu.Unlock()

	live := make([]store.EncryptedMessage, 0, len(q.msgs))
	var kept []store.EncryptedMessage
	for _, m := range q.msgs {
		if store.IsLive(m.ExpiresAt, now) {
			live = append(live, m)
		} else {
			// Expired entries stay for the sweep, which also releases
			// any offloaded payload blobs.
			kept = append(kept, m)
		}
	}
	q.msgs = kept
	if len(q.msgs) == 0 {
		s.retireQueueLocked(mailboxID, q)
	}

	store.SortMessages(live)
	return live, nil
}
