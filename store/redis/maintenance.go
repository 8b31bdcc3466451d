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

// scanKeys collects all keys matching the pattern.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", pattern, err)
	}
	return keys, nil
}

// sweepQueue rewrites one queue keeping only live entries and returns the
// number removed. Runs under WATCH so a concurrent send or drain forces
// a retry instead of losing messages.
func (s *Store) sweepQueue(ctx context.Context, key string, now time.Time) (int64, error) {
	var removed int64

	txf := func(tx *redis.Tx) error {
		vals, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read queue: %w", err)
		}
		msgs, err := decodeQueue(vals)
		if err != nil {
			return err
		}

		live, expired := partitionLive(msgs, now)
		removed = int64(len(expired))
		if removed == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, msg := range live {
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
			return removed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, err
	}
	return 0, redis.TxFailedErr
}

// DeleteExpiredMessages removes all messages whose expiry has passed and
// returns the number removed.
func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys, err := s.scanKeys(ctx, s.opts.keyPrefix+"queue:*")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		n, err := s.sweepQueue(ctx, key, now)
		if err != nil {
			return total, fmt.Errorf("sweep %q: %w", key, err)
		}
		total += n
	}
	return total, nil
}

// DeleteExpiredMailboxes removes all mailboxes whose expiry has passed
// and returns the number removed. The native key TTL usually gets there
// first; this sweep covers clock skew and reports the count.
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys, err := s.scanKeys(ctx, s.opts.keyPrefix+"mailbox:*")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return total, fmt.Errorf("get mailbox: %w", err)
		}
		var mb store.Mailbox
		if err := json.Unmarshal(data, &mb); err != nil {
			return total, fmt.Errorf("unmarshal mailbox: %w", err)
		}
		if store.IsLive(mb.ExpiresAt, now) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return total, fmt.Errorf("delete mailbox: %w", err)
		}
		total += n
	}
	return total, nil
}

// ListExpiredPayloadURIs returns the external payload locations of expired
// messages so the caller can release the blobs before the sweep discards
// the queue entries.
func (s *Store) ListExpiredPayloadURIs(ctx context.Context, now time.Time) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys, err := s.scanKeys(ctx, s.opts.keyPrefix+"queue:*")
	if err != nil {
		return nil, err
	}

	var uris []string
	for _, key := range keys {
		msgs, err := s.readQueue(ctx, key)
		if err != nil {
			return nil, err
		}
		_, expired := partitionLive(msgs, now)
		for _, msg := range expired {
			if msg.PayloadURI != "" {
				uris = append(uris, msg.PayloadURI)
			}
		}
	}
	return uris, nil
}

// Stats reports live mailbox and queued message counts.
func (s *Store) Stats(ctx context.Context, now time.Time) (*store.RelayStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	stats := &store.RelayStats{}

	mailboxKeys, err := s.scanKeys(ctx, s.opts.keyPrefix+"mailbox:*")
	if err != nil {
		return nil, err
	}
	for _, key := range mailboxKeys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get mailbox: %w", err)
		}
		var mb store.Mailbox
		if err := json.Unmarshal(data, &mb); err != nil {
			return nil, fmt.Errorf("unmarshal mailbox: %w", err)
		}
		if store.IsLive(mb.ExpiresAt, now) {
			stats.ActiveMailboxes++
		}
	}

	queueKeys, err := s.scanKeys(ctx, s.opts.keyPrefix+"queue:*")
	if err != nil {
		return nil, err
	}
	for _, key := range queueKeys {
		msgs, err := s.readQueue(ctx, key)
		if err != nil {
			return nil, err
		}
		live, _ := partitionLive(msgs, now)
		stats.QueuedMessages += int64(len(live))
	}
	return stats, nil
}
