package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/relay/store"
)

// DeleteExpiredMessages removes all expired messages and returns the count.
// Each queue is swept under its own mutex, so a queue mid-drain is either
// seen before the drain (and its expired entries removed) or after (already
// cleared) - never in a partial state.
func (s *Store) DeleteExpiredMessages(_ context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	var deleted int64
	s.queues.Range(func(key, value any) bool {
		q := value.(*queue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			return true
		}
		kept := q.msgs[:0]
		for _, m := range q.msgs {
			if store.IsLive(m.ExpiresAt, now) {
				kept = append(kept, m)
			} else {
				deleted++
			}
		}
		q.msgs = kept
		if len(q.msgs) == 0 {
			s.retireQueueLocked(key.(string), q)
		}
		q.mu.Unlock()
		return true
	})
	return deleted, nil
}

// DeleteExpiredMailboxes removes all expired mailboxes and returns the count.
// Uses CompareAndDelete so a mailbox re-created concurrently under the same
// id (fresh expiry) is never swept by mistake.
func (s *Store) DeleteExpiredMailboxes(_ context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	var deleted int64
	s.mailboxes.Range(func(key, value any) bool {
		mb := value.(*store.Mailbox)
		if !store.IsLive(mb.ExpiresAt, now) {
			if s.mailboxes.CompareAndDelete(key, value) {
				deleted++
			}
		}
		return true
	})
	return deleted, nil
}

// ListExpiredPayloadURIs returns the offloaded-blob URIs of expired messages.
func (s *Store) ListExpiredPayloadURIs(_ context.Context, now time.Time) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var uris []string
	s.queues.Range(func(_, value any) bool {
		q := value.(*queue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			return true
		}
		for _, m := range q.msgs {
			if !store.IsLive(m.ExpiresAt, now) && m.PayloadURI != "" {
				uris = append(uris, m.PayloadURI)
			}
		}
		q.mu.Unlock()
		return true
	})
	return uris, nil
}

// Stats returns the number of live mailboxes and queued live messages.
func (s *Store) Stats(_ context.Context, now time.Time) (*store.RelayStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	stats := &store.RelayStats{}
	s.mailboxes.Range(func(_, value any) bool {
		if store.IsLive(value.(*store.Mailbox).ExpiresAt, now) {
			stats.ActiveMailboxes++
		}
		return true
	})
	s.queues.Range(func(_, value any) bool {
		q := value.(*queue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			return true
		}
		for _, m := range q.msgs {
			if store.IsLive(m.ExpiresAt, now) {
				stats.QueuedMessages++
			}
		}
		q.mu.Unlock()
		return true
	})
	return stats, nil
}
