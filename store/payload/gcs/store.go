// Package gcs provides a Google Cloud Storage-based payload store.
package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/rbaliyan/relay/store"
)

const contentType = "application/octet-stream"

// Store implements store.PayloadStore using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Store implements PayloadStore.
var _ store.PayloadStore = (*Store)(nil)

// New creates a new GCS payload store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		prefix: "payloads",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// buildClientOptions builds GCS client options based on authentication settings.
func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	default:
		// Application Default Credentials: GOOGLE_APPLICATION_CREDENTIALS,
		// gcloud user credentials, Workload Identity on GKE, or the
		// Compute Engine default service account.
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Put uploads the payload to GCS and returns a gs:// URI.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (string, error) {
	objectKey := s.objectKey(key)

	obj := s.client.Bucket(s.bucket).Object(objectKey)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy content to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Debug("uploaded payload to gcs", "bucket", s.bucket, "key", objectKey)
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectKey), nil
}

// Load returns a reader for the payload content.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	obj := s.client.Bucket(bucket).Object(key)
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	return r, nil
}

// Delete removes the payload from GCS.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return err
	}

	obj := s.client.Bucket(bucket).Object(key)
	if err := obj.Delete(ctx); err != nil {
		return fmt.Errorf("delete object from gcs: %w", err)
	}

	s.logger.Debug("deleted payload from gcs", "bucket", bucket, "key", key)
	return nil
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

// objectKey builds a date-partitioned GCS key for the payload.
func (s *Store) objectKey(key string) string {
	now := time.Now().UTC()
	return path.Join(s.prefix, now.Format("2006/01/02"), key)
}

// parseGCSURI parses a gs:// URI into bucket and key.
func parseGCSURI(uri string) (bucket, key string, err error) {
	if len(uri) < 6 || uri[:5] != "gs://" {
		return "", "", fmt.Errorf("invalid gcs uri: %s", uri)
	}

	rest := uri[5:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid gcs uri (no key): %s", uri)
}
