package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/salesync/internal/config"
	"github.com/stockline/salesync/internal/db"
	apperrors "github.com/stockline/salesync/internal/errors"
)

// runBlobStoreSuite checks the behaviour every BlobStore must share.
func runBlobStoreSuite(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		data, found, err := store.ReadBlob(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, data)
	})

	t.Run("write then read", func(t *testing.T) {
		require.NoError(t, store.WriteBlob(ctx, "sync/queue", []byte(`[{"id":"a"}]`)))
		data, found, err := store.ReadBlob(ctx, "sync/queue")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `[{"id":"a"}]`, string(data))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.WriteBlob(ctx, "cache/products", []byte("v1")))
		require.NoError(t, store.WriteBlob(ctx, "cache/products", []byte("v2")))
		data, _, err := store.ReadBlob(ctx, "cache/products")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.WriteBlob(ctx, "sync/status", []byte("{}")))
		require.NoError(t, store.DeleteBlob(ctx, "sync/status"))
		require.NoError(t, store.DeleteBlob(ctx, "sync/status"))
		_, found, err := store.ReadBlob(ctx, "sync/status")
		require.NoError(t, err)
		assert.False(t, found)
	})

	if lister, ok := store.(Lister); ok {
		t.Run("list keys", func(t *testing.T) {
			require.NoError(t, store.WriteBlob(ctx, "cache/sales", []byte("s")))
			keys, err := lister.ListKeys(ctx, "cache/")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"cache/products", "cache/sales"}, keys)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	runBlobStoreSuite(t, NewMemoryStore())
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetFailWrites(true)
	err := s.WriteBlob(ctx, "k", []byte("v"))
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))

	s.SetFailWrites(false)
	s.SetFailReads(true)
	_, _, err = s.ReadBlob(ctx, "k")
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runBlobStoreSuite(t, s)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.WriteBlob(ctx, "sync/queue", []byte("persisted")))

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	data, found, err := second.ReadBlob(ctx, "sync/queue")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "persisted", string(data))
}

func TestFileStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.WriteBlob(ctx, "cache/sales", []byte("payload")))

	path := s.path("cache/sales")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, _, err = s.ReadBlob(ctx, "cache/sales")
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))

	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	_, _, err = s.ReadBlob(ctx, "cache/sales")
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteBlob(ctx, "k", []byte("v")))

	matches, err := filepath.Glob(filepath.Join(dir, "*", ".blob-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLiteStore(t *testing.T) {
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	runBlobStoreSuite(t, NewSQLiteStore(database))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	database, err := db.Open(dir)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteStore(database).WriteBlob(ctx, "sync/status", []byte(`{"state":"idle"}`)))
	require.NoError(t, database.Close())

	database, err = db.Open(dir)
	require.NoError(t, err)
	defer database.Close()
	data, found, err := NewSQLiteStore(database).ReadBlob(ctx, "sync/status")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"state":"idle"}`, string(data))
}

func TestSQLiteStore_ClosedDatabase(t *testing.T) {
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	s := NewSQLiteStore(database)
	require.NoError(t, database.Close())

	err = s.WriteBlob(context.Background(), "k", []byte("v"))
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("SALESYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SALESYNC_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	namespace := "salesync-test:" + t.Name() + ":"
	s := NewRedisStoreWithClient(client, namespace)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, namespace+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		s.Close()
	})
	runBlobStoreSuite(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.StorageSQLite, config.StorageFile, config.StorageMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.DataDir = t.TempDir()
			cfg.Storage.Backend = backend

			store, closer, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer closer.Close()
			require.NoError(t, store.WriteBlob(ctx, "k", []byte("v")))
		})
	}

	cfg := config.Default()
	cfg.Storage.Backend = "etcd"
	_, _, err := Open(ctx, cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestEncryptedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store, err := Encrypt(ctx, inner, "device-secret")
	require.NoError(t, err)
	runBlobStoreSuite(t, store)

	require.NoError(t, store.WriteBlob(ctx, "sync/queue", []byte(`[{"table":"sales"}]`)))
	raw, found, err := inner.ReadBlob(ctx, "sync/queue")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), "sales")

	t.Run("reopen with the same key", func(t *testing.T) {
		again, err := Encrypt(ctx, inner, "device-secret")
		require.NoError(t, err)
		data, found, err := again.ReadBlob(ctx, "sync/queue")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `[{"table":"sales"}]`, string(data))
	})

	t.Run("wrong key", func(t *testing.T) {
		wrong, err := Encrypt(ctx, inner, "other-secret")
		require.NoError(t, err)
		_, _, err = wrong.ReadBlob(ctx, "sync/queue")
		assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
	})

	t.Run("value moved to another key", func(t *testing.T) {
		require.NoError(t, inner.WriteBlob(ctx, "sync/status", raw))
		_, _, err := store.ReadBlob(ctx, "sync/status")
		assert.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
	})

	t.Run("salt is hidden from listings", func(t *testing.T) {
		keys, err := store.(Lister).ListKeys(ctx, "")
		require.NoError(t, err)
		assert.NotContains(t, keys, SaltKey)
	})
}

func TestEncrypt_listerFollowsInner(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	store, err := Encrypt(ctx, fs, "device-secret")
	require.NoError(t, err)
	_, ok := store.(Lister)
	assert.False(t, ok)
}

func TestOpen_encrypted(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage.EncryptionKey = "device-secret"

	store, closer, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, store.WriteBlob(ctx, "sync/status", []byte(`{"last_outcome":"success"}`)))
	require.NoError(t, closer.Close())

	database, err := db.Open(cfg.DataDir)
	require.NoError(t, err)
	defer database.Close()
	raw, found, err := NewSQLiteStore(database).ReadBlob(ctx, "sync/status")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), "success")
}
