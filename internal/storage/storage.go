// Package storage provides the local durable key-value collaborator used by
// the queue, cache and conflict stores.
package storage

import (
	"context"
)

// BlobStore persists opaque values by key. Writes must be durable across
// process restarts for every implementation except MemoryStore.
type BlobStore interface {
	// ReadBlob returns the value for key; found is false when the key is absent.
	ReadBlob(ctx context.Context, key string) (data []byte, found bool, err error)
	// WriteBlob replaces the value for key atomically.
	WriteBlob(ctx context.Context, key string, data []byte) error
	// DeleteBlob removes key. Deleting an absent key is not an error.
	DeleteBlob(ctx context.Context, key string) error
}

// Lister is implemented by stores that can enumerate keys with a prefix.
type Lister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
