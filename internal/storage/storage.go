// Package storage persists capture artifacts. The local store is the system
// of record; S3 is a best-effort side channel for raw audio.
package storage

import (
	"context"
	"io"
)

// Store abstracts an artifact backend.
type Store interface {
	// Save writes an artifact under the given key.
	Save(ctx context.Context, key string, data []byte, contentType string) error
	// Open reads an artifact back.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) bool
	// Type identifies the backend ("local", "s3").
	Type() string
}
