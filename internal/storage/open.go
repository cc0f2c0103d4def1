package storage

import (
	"context"
	"io"
	"path/filepath"

	"github.com/stockline/salesync/internal/config"
	"github.com/stockline/salesync/internal/db"
	apperrors "github.com/stockline/salesync/internal/errors"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the BlobStore selected by cfg, sealed when an encryption key
// is configured. The returned closer releases the backend's resources.
func Open(ctx context.Context, cfg *config.Config) (BlobStore, io.Closer, error) {
	store, closer, err := openBackend(ctx, cfg)
	if err != nil || cfg.Storage.EncryptionKey == "" {
		return store, closer, err
	}
	sealed, err := Encrypt(ctx, store, cfg.Storage.EncryptionKey)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return sealed, closer, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (BlobStore, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		database, err := db.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to open sqlite store", err)
		}
		return NewSQLiteStore(database), database, nil
	case config.StorageFile:
		fs, err := NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
		if err != nil {
			return nil, nil, err
		}
		return fs, nopCloser{}, nil
	case config.StorageRedis:
		rs, err := NewRedisStore(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs, nil
	case config.StorageMemory:
		return NewMemoryStore(), nopCloser{}, nil
	}
	return nil, nil, apperrors.Newf(apperrors.ErrConfig, "unknown storage backend %q", cfg.Storage.Backend)
}
