// Package postgres provides a PostgreSQL implementation of store.Store.
//
// This is the durable deployment backend: mailbox and message records
// survive restarts, and expiry sweeps run on an indexed expires_at column.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver for NewFromDSN

	"github.com/rbaliyan/relay/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// NewFromDSN creates a new PostgreSQL store by opening a connection to the
// given DSN. The connection is not verified until Connect().
func NewFromDSN(dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db, opts...), nil
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL",
		"mailboxes", s.opts.mailboxTable,
		"messages", s.opts.messageTable,
		"users", s.opts.userTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				public_key_hash VARCHAR(128) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				CHECK (expires_at > created_at)
			)
		`, s.opts.mailboxTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				recipient_mailbox UUID NOT NULL,
				payload BYTEA NOT NULL DEFAULT ''::bytea,
				payload_uri TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				CHECK (expires_at > created_at)
			)
		`, s.opts.messageTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				public_key_hash VARCHAR(128) NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL,
				last_seen TIMESTAMPTZ NOT NULL
			)
		`, s.opts.userTable),
		// Key-hash lookups (rotation: one hash owns many mailboxes).
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_key_hash ON %s(public_key_hash)`,
			s.opts.mailboxTable, s.opts.mailboxTable),
		// Sweep scans.
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`,
			s.opts.mailboxTable, s.opts.mailboxTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`,
			s.opts.messageTable, s.opts.messageTable),
		// Receive path: all live messages for one mailbox.
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_recipient_expires ON %s(recipient_mailbox, expires_at)`,
			s.opts.messageTable, s.opts.messageTable),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}
