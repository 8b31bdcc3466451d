package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMailboxTable = "relay_mailboxes"
	DefaultMessageTable = "relay_messages"
	DefaultUserTable    = "relay_users"
	DefaultTimeout      = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	mailboxTable string
	messageTable string
	userTable    string
	timeout      time.Duration
	logger       *slog.Logger
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		mailboxTable: DefaultMailboxTable,
		messageTable: DefaultMessageTable,
		userTable:    DefaultUserTable,
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the PostgreSQL store.
type Option func(*options)

// WithTablePrefix sets a common prefix for all three tables.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		o.mailboxTable = prefix + "_mailboxes"
		o.messageTable = prefix + "_messages"
		o.userTable = prefix + "_users"
	}
}

// WithTimeout sets the per-operation timeout. Default is 10s.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
