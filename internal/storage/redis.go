package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/stockline/salesync/internal/errors"
)

// DefaultRedisNamespace prefixes every key written by RedisStore.
const DefaultRedisNamespace = "salesync:"

// RedisStore keeps blobs as plain Redis string values. Durability follows the
// server's persistence settings.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to redisURL and verifies the server answers.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to parse redis URL", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to ping redis", err)
	}
	return NewRedisStoreWithClient(client, DefaultRedisNamespace), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ReadBlob implements BlobStore.
func (s *RedisStore) ReadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read blob", err)
	}
	return data, true, nil
}

// WriteBlob implements BlobStore.
func (s *RedisStore) WriteBlob(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, data, 0).Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to write blob", err)
	}
	return nil
}

// DeleteBlob implements BlobStore.
func (s *RedisStore) DeleteBlob(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to delete blob", err)
	}
	return nil
}

// ListKeys implements Lister using SCAN so large keyspaces are not blocked.
func (s *RedisStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.namespace+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.namespace):])
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to list blobs", err)
	}
	return keys, nil
}
