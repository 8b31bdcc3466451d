// Package memory provides a volatile in-process Store implementation.
//
// This is the pure-relay deployment backend: all state lives in process
// memory and is lost on restart. That is an explicit deployment choice -
// a relay that forwards encrypted blobs between pickups has nothing worth
// persisting - not an accident. Use store/postgres or store/mongo when
// records must survive a restart.
//
// Concurrency: one mutex per mailbox queue, never a store-wide lock, so
// traffic on unrelated mailboxes never contends. Drains hold the queue
// mutex across the read-and-clear, which makes send and destructive
// receive on the same mailbox linearizable.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/relay/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
type Store struct {
	mailboxes sync.Map // map[string]*store.Mailbox
	queues    sync.Map // map[string]*queue

	userMu sync.Mutex
	users  map[string]*store.AnonymousUser // keyed by public key hash

	connected int32
}

// queue holds the pending messages for one mailbox.
// All access goes through getQueue, which returns the queue locked.
type queue struct {
	mu   sync.Mutex
	msgs []store.EncryptedMessage
	// dead marks a queue that has been removed from the index. A sender
	// holding a stale pointer must retry getQueue instead of appending.
	dead bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{users: make(map[string]*store.AnonymousUser)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// getQueue returns the queue for a mailbox with its mutex held, creating
// it if needed. The caller must unlock it. Retries when it loses the race
// against a sweep that removed an emptied queue.
func (s *Store) getQueue(mailboxID string) *queue {
	for {
		v, _ := s.queues.LoadOrStore(mailboxID, &queue{})
		q := v.(*queue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		return q
	}
}

// loadQueue returns an existing queue with its mutex held, or nil if the
// mailbox has no queue. The caller must unlock a non-nil result.
func (s *Store) loadQueue(mailboxID string) *queue {
	v, ok := s.queues.Load(mailboxID)
	if !ok {
		return nil
	}
	q := v.(*queue)
	q.mu.Lock()
	if q.dead {
		q.mu.Unlock()
		return nil
	}
	return q
}

// retireQueueLocked marks an emptied queue dead and removes it from the
// index. Must be called with q.mu held and q.msgs empty.
func (s *Store) retireQueueLocked(mailboxID string, q *queue) {
	q.dead = true
	s.queues.CompareAndDelete(mailboxID, q)
}
