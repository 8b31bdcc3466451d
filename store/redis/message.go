package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/relay/store"
)

// SaveMessage appends a message to its mailbox queue.
func (s *Store) SaveMessage(ctx context.Context, msg *store.EncryptedMessage) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, s.queueKey(msg.RecipientMailbox), data).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// readQueue decodes every entry in a mailbox queue.
func (s *Store) readQueue(ctx context.Context, key string) ([]store.EncryptedMessage, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return decodeQueue(vals)
}

func decodeQueue(vals []string) ([]store.EncryptedMessage, error) {
	msgs := make([]store.EncryptedMessage, 0, len(vals))
	for _, v := range vals {
		var msg store.EncryptedMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func partitionLive(msgs []store.EncryptedMessage, now time.Time) (live, expired []store.EncryptedMessage) {
	for _, msg := range msgs {
		if store.IsLive(msg.ExpiresAt, now) {
			live = append(live, msg)
		} else {
			expired = append(expired, msg)
		}
	}
	return live, expired
}

// ListMessages returns the live messages for a mailbox without removing them.
func (s *Store) ListMessages(ctx context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	msgs, err := s.readQueue(ctx, s.queueKey(mailboxID))
	if err != nil {
		return nil, err
	}
	live, _ := partitionLive(msgs, now)
	store.SortMessages(live)
	return live, nil
}

// DrainMessages atomically removes and returns the live messages for a
// mailbox. The queue key is WATCHed while the list is read and rewritten,
// so a concurrent drain or send invalidates the transaction and it
// retries. Expired entries stay queued for the sweep, which releases any
// externally stored payloads before discarding them.
func (s *Store) DrainMessages(ctx context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	key := s.queueKey(mailboxID)
	var live []store.EncryptedMessage

	txf := func(tx *redis.Tx) error {
		vals, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read queue: %w", err)
		}
		msgs, err := decodeQueue(vals)
		if err != nil {
			return err
		}

		var expired []store.EncryptedMessage
		live, expired = partitionLive(msgs, now)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, msg := range expired {
				data, err := json.Marshal(&msg)
				if err != nil {
					return fmt.Errorf("marshal message: %w", err)
				}
				pipe.RPush(ctx, key, data)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			store.SortMessages(live)
			return live, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("drain messages: %w", err)
	}
	return nil, fmt.Errorf("drain messages: %w", redis.TxFailedErr)
}
