package redis

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "relay:"
	DefaultTimeout   = 10 * time.Second

	// maxTxRetries bounds the optimistic retry loop on WATCH conflicts.
	maxTxRetries = 16
)

// options holds Redis store configuration.
type options struct {
	keyPrefix string
	timeout   time.Duration
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		keyPrefix: DefaultKeyPrefix,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis store.
type Option func(*options)

// WithKeyPrefix sets the prefix for all keys written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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
