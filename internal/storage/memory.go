package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/stockline/salesync/internal/errors"
)

// MemoryStore is a process-local BlobStore. Contents are lost on exit.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// failWrites makes every write fail; used to exercise storage failures.
	failWrites bool
	failReads  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// ReadBlob implements BlobStore.
func (s *MemoryStore) ReadBlob(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads {
		return nil, false, apperrors.New(apperrors.ErrStorageFailure, "memory store read failure")
	}
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// WriteBlob implements BlobStore.
func (s *MemoryStore) WriteBlob(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return apperrors.New(apperrors.ErrStorageFailure, "memory store write failure")
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

// DeleteBlob implements BlobStore.
func (s *MemoryStore) DeleteBlob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return apperrors.New(apperrors.ErrStorageFailure, "memory store write failure")
	}
	delete(s.blobs, key)
	return nil
}

// ListKeys implements Lister.
func (s *MemoryStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SetFailWrites toggles injected write failures.
func (s *MemoryStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

// SetFailReads toggles injected read failures.
func (s *MemoryStore) SetFailReads(fail bool) {
	s.mu.Lock()
	s.failReads = fail
	s.mu.Unlock()
}

// Corrupt overwrites key with raw bytes, bypassing any encoding.
func (s *MemoryStore) Corrupt(key string, data []byte) {
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
}
