package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/relay/store"
)

// DeleteExpiredMessages removes all messages whose expiry has passed and
// returns the number of rows deleted. Safe to run concurrently from
// multiple processes: each row is deleted at most once.
func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.opts.messageTable)
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// DeleteExpiredMailboxes removes all mailboxes whose expiry has passed
// and returns the number of rows deleted.
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.opts.mailboxTable)
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired mailboxes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ListExpiredPayloadURIs returns the external payload locations of expired
// messages so the caller can release the blobs before deleting the rows.
func (s *Store) ListExpiredPayloadURIs(ctx context.Context, now time.Time) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT payload_uri FROM %s
		WHERE expires_at < $1 AND payload_uri <> ''
	`, s.opts.messageTable)

	var uris []string
	if err := s.db.SelectContext(ctx, &uris, query, now); err != nil {
		return nil, fmt.Errorf("select expired payload uris: %w", err)
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

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE expires_at > $1`, s.opts.mailboxTable)
	if err := s.db.GetContext(ctx, &stats.ActiveMailboxes, query, now); err != nil {
		return nil, fmt.Errorf("count mailboxes: %w", err)
	}

	query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE expires_at > $1`, s.opts.messageTable)
	if err := s.db.GetContext(ctx, &stats.QueuedMessages, query, now); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return stats, nil
}
