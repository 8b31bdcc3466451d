// Package redis provides a Redis implementation of store.Store.
//
// Mailboxes and users are JSON values under prefixed keys; each mailbox
// queue is a Redis list of JSON-encoded messages. Destructive drains use
// WATCH/MULTI so two concurrent drains of the same mailbox partition the
// queue instead of both reading it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/relay/store"
)

// Store implements store.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new Redis store with the provided client.
// Call Connect() to verify connectivity.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect verifies the Redis connection.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to Redis", "key_prefix", s.opts.keyPrefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the Redis client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) mailboxKey(id string) string {
	return s.opts.keyPrefix + "mailbox:" + id
}

func (s *Store) queueKey(mailboxID string) string {
	return s.opts.keyPrefix + "queue:" + mailboxID
}

func (s *Store) userKey(publicKeyHash string) string {
	return s.opts.keyPrefix + "user:" + publicKeyHash
}

// Compile-time check
var _ store.Store = (*Store)(nil)
