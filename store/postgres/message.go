package postgres

import (
	"context"
	"fmt"
	"time"

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

	query := fmt.Sprintf(`
		INSERT INTO %s (id, recipient_mailbox, payload, payload_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.opts.messageTable)

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RecipientMailbox, msg.Payload, msg.PayloadURI, msg.CreatedAt, msg.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
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

	query := fmt.Sprintf(`
		SELECT id, recipient_mailbox, payload, payload_uri, created_at, expires_at
		FROM %s
		WHERE recipient_mailbox = $1 AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, s.opts.messageTable)

	var msgs []store.EncryptedMessage
	if err := s.db.SelectContext(ctx, &msgs, query, mailboxID, now); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return msgs, nil
}

// DrainMessages atomically removes and returns the live messages for a
// mailbox. The DELETE ... RETURNING CTE claims the rows in one statement,
// so two concurrent drains partition the queue - each row is returned to
// exactly one caller.
func (s *Store) DrainMessages(ctx context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		WITH drained AS (
			DELETE FROM %s
			WHERE recipient_mailbox = $1 AND expires_at > $2
			RETURNING id, recipient_mailbox, payload, payload_uri, created_at, expires_at
		)
		SELECT id, recipient_mailbox, payload, payload_uri, created_at, expires_at
		FROM drained
		ORDER BY created_at ASC, id ASC
	`, s.opts.messageTable)

	var msgs []store.EncryptedMessage
	if err := s.db.SelectContext(ctx, &msgs, query, mailboxID, now); err != nil {
		return nil, fmt.Errorf("drain messages: %w", err)
	}
	return msgs, nil
}
