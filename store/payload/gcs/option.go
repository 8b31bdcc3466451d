package gcs

import (
	"log/slog"
)

// options holds GCS store configuration.
type options struct {
	bucket string
	prefix string

	// Custom endpoint (for emulators, testing)
	endpoint string

	// Credentials options (mutually exclusive)
	credentialsJSON []byte
	credentialsFile string

	logger *slog.Logger
}

// Option configures the GCS store.
type Option func(*options)

// WithBucket sets the GCS bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets the key prefix for payloads.
// Default is "payloads".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEndpoint sets a custom GCS endpoint (for emulators, testing).
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON sets service account credentials from JSON bytes.
// Use this when you have the service account key loaded in memory.
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) {
		o.credentialsJSON = json
	}
}

// WithCredentialsFile sets the path to a service account JSON key file.
// This is equivalent to setting GOOGLE_APPLICATION_CREDENTIALS.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
