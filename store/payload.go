package store

import (
	"context"
	"io"
)

// PayloadStore stores large encrypted payloads outside the message store.
// Messages above the relay's inline threshold carry a PayloadURI pointing
// at the stored blob instead of embedding the ciphertext.
//
// Implementations are in the store/payload subpackages (S3, GCS, plus a
// local caching wrapper).
type PayloadStore interface {
	// Put stores the content and returns a URI for later retrieval.
	// The key is the message id; backends may partition around it.
	Put(ctx context.Context, key string, content io.Reader) (string, error)

	// Load returns a reader for the stored content.
	// The caller must close the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the stored content.
	Delete(ctx context.Context, uri string) error
}
