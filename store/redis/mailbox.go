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

// CreateMailbox persists a new mailbox record. The key carries a native
// Redis expiry as a backstop for the explicit sweep.
func (s *Store) CreateMailbox(ctx context.Context, mb *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := mb.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	data, err := json.Marshal(mb)
	if err != nil {
		return fmt.Errorf("marshal mailbox: %w", err)
	}

	key := s.mailboxKey(mb.ID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.ExpireAt(ctx, key, mb.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set mailbox: %w", err)
	}
	return nil
}

// GetMailbox retrieves a mailbox by id.
func (s *Store) GetMailbox(ctx context.Context, id string, now time.Time) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(id) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.mailboxKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}

	var mb store.Mailbox
	if err := json.Unmarshal(data, &mb); err != nil {
		return nil, fmt.Errorf("unmarshal mailbox: %w", err)
	}

	if !store.IsLive(mb.ExpiresAt, now) {
		return nil, store.ErrMailboxExpired
	}
	return &mb, nil
}

// TouchUser upserts the anonymous user record for a public key hash.
// The WATCH transaction retries on concurrent writes to the same key,
// so the first contact race resolves to a single record.
func (s *Store) TouchUser(ctx context.Context, publicKeyHash string, now time.Time) (*store.AnonymousUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if publicKeyHash == "" {
		return nil, store.ErrEmptyKeyHash
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	key := s.userKey(publicKeyHash)
	var user store.AnonymousUser

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			user = store.AnonymousUser{
				ID:            store.NewID(),
				PublicKeyHash: publicKeyHash,
				CreatedAt:     now,
				LastSeen:      now,
			}
		case err != nil:
			return fmt.Errorf("get user: %w", err)
		default:
			if err := json.Unmarshal(data, &user); err != nil {
				return fmt.Errorf("unmarshal user: %w", err)
			}
			user.LastSeen = now
		}

		out, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return &user, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("touch user: %w", err)
	}
	return nil, fmt.Errorf("touch user: %w", redis.TxFailedErr)
}
