package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/stockline/salesync/internal/errors"
)

// FileStore keeps each blob in its own file addressed by the SHA-256 of the
// key: baseDir/{hash[0:2]}/{hash}. Every file starts with the SHA-256 of its
// payload so torn or tampered writes are detected on read.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to create blob directory", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// CalculateHash calculates the SHA-256 of data as hex.
func CalculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) path(key string) string {
	hash := CalculateHash([]byte(key))
	return filepath.Join(s.baseDir, hash[0:2], hash)
}

// ReadBlob implements BlobStore.
func (s *FileStore) ReadBlob(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read blob", err)
	}

	if len(raw) < sha256.Size {
		return nil, false, apperrors.Newf(apperrors.ErrStorageFailure, "blob %q is truncated", key)
	}
	sum, data := raw[:sha256.Size], raw[sha256.Size:]
	got := sha256.Sum256(data)
	if !bytes.Equal(sum, got[:]) {
		return nil, false, apperrors.Newf(apperrors.ErrStorageFailure, "checksum mismatch for blob %q", key)
	}
	return data, true, nil
}

// WriteBlob implements BlobStore. The file is written to a temporary name,
// synced and renamed over the previous version.
func (s *FileStore) WriteBlob(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".blob-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	sum := sha256.Sum256(data)
	_, err = tmp.Write(append(sum[:], data...))
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, fmt.Sprintf("failed to write blob %q", key), err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to commit blob", err)
	}
	return nil
}

// DeleteBlob implements BlobStore.
func (s *FileStore) DeleteBlob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to delete blob", err)
	}
	return nil
}
