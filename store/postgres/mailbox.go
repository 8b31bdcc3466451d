package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/relay/store"
)

// CreateMailbox persists a new mailbox record.
func (s *Store) CreateMailbox(ctx context.Context, mb *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := mb.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, public_key_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, s.opts.mailboxTable)

	if _, err := s.db.ExecContext(ctx, query, mb.ID, mb.PublicKeyHash, mb.CreatedAt, mb.ExpiresAt); err != nil {
		return fmt.Errorf("insert mailbox: %w", err)
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

	query := fmt.Sprintf(`
		SELECT id, public_key_hash, created_at, expires_at
		FROM %s WHERE id = $1
	`, s.opts.mailboxTable)

	var mb store.Mailbox
	if err := s.db.GetContext(ctx, &mb, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select mailbox: %w", err)
	}

	if !store.IsLive(mb.ExpiresAt, now) {
		return nil, store.ErrMailboxExpired
	}
	return &mb, nil
}

// TouchUser upserts the anonymous user record for a public key hash.
// The atomic upsert means concurrent first contacts for the same hash
// produce exactly one row - the database arbitrates, no locking here.
func (s *Store) TouchUser(ctx context.Context, publicKeyHash string, now time.Time) (*store.AnonymousUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if publicKeyHash == "" {
		return nil, store.ErrEmptyKeyHash
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, public_key_hash, created_at, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (public_key_hash)
		DO UPDATE SET last_seen = EXCLUDED.last_seen
		RETURNING id, public_key_hash, created_at, last_seen
	`, s.opts.userTable)

	var u store.AnonymousUser
	if err := s.db.GetContext(ctx, &u, query, store.NewID(), publicKeyHash, now); err != nil {
		return nil, fmt.Errorf("touch user: %w", err)
	}
	return &u, nil
}
