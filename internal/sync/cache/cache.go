// Package cache keeps the last successful snapshot of each remote collection
// so the UI can render while offline.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/snappy"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/storage"
)

// KeyPrefix prefixes every cached collection's blob key.
const KeyPrefix = "cache/"

// SchemaVersion is bumped whenever the cached layout changes. Snapshots with
// another version are treated as absent.
const SchemaVersion = 1

// Key returns the blob key for table.
func Key(table models.Table) string {
	return KeyPrefix + string(table)
}

// Store reads and writes cached collections. Reads never fail: any problem
// with a stored snapshot degrades to "absent".
type Store struct {
	blobs storage.BlobStore
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store backed by blobs.
func New(blobs storage.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs: blobs,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put replaces the snapshot for table.
func (s *Store) Put(ctx context.Context, table models.Table, items []models.Record) (*models.CachedCollection, error) {
	if items == nil {
		items = []models.Record{}
	}
	col := &models.CachedCollection{
		Table:         table,
		Items:         items,
		LastUpdated:   s.now(),
		SchemaVersion: SchemaVersion,
	}
	if err := s.write(ctx, col); err != nil {
		return nil, err
	}

	logging.Debug("Cached collection", map[string]interface{}{
		"table": table,
		"items": len(items),
	})
	return col, nil
}

func (s *Store) write(ctx context.Context, col *models.CachedCollection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode cached collection", err)
	}
	if err := s.blobs.WriteBlob(ctx, Key(col.Table), snappy.Encode(nil, data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to persist cached collection", err)
	}
	return nil
}

// Get returns the snapshot for table, or nil when none is usable.
func (s *Store) Get(ctx context.Context, table models.Table) *models.CachedCollection {
	raw, found, err := s.blobs.ReadBlob(ctx, Key(table))
	if err != nil {
		logging.Warn("Cache read failed, treating as absent", map[string]interface{}{
			"table": table,
			"error": err.Error(),
		})
		return nil
	}
	if !found {
		return nil
	}

	data, err := snappy.Decode(nil, raw)
	if err != nil {
		logging.Warn("Cache snapshot is not valid snappy data, treating as absent", map[string]interface{}{
			"table": table,
			"error": err.Error(),
		})
		return nil
	}

	var col models.CachedCollection
	if err := json.Unmarshal(data, &col); err != nil {
		logging.Warn("Cache snapshot is corrupted, treating as absent", map[string]interface{}{
			"table": table,
			"error": err.Error(),
		})
		return nil
	}
	if col.SchemaVersion != SchemaVersion {
		logging.Info("Cache snapshot has another schema version, treating as absent", map[string]interface{}{
			"table":          table,
			"schema_version": col.SchemaVersion,
			"want":           SchemaVersion,
		})
		return nil
	}
	if col.Items == nil {
		col.Items = []models.Record{}
	}
	col.Table = table
	return &col
}

// IsFresh reports whether table has a snapshot updated less than ttl ago and
// not invalidated since.
func (s *Store) IsFresh(ctx context.Context, table models.Table, ttl time.Duration) bool {
	col := s.Get(ctx, table)
	if col == nil || col.Stale {
		return false
	}
	return s.now().Sub(col.LastUpdated) < ttl
}

// Invalidate marks the stored snapshot of table stale, so IsFresh fails until
// the next Put. The flag is persisted; the snapshot stays readable.
func (s *Store) Invalidate(ctx context.Context, table models.Table) error {
	col := s.Get(ctx, table)
	if col == nil || col.Stale {
		return nil
	}
	col.Stale = true
	return s.write(ctx, col)
}

// Drop deletes the snapshot for table.
func (s *Store) Drop(ctx context.Context, table models.Table) error {
	if err := s.blobs.DeleteBlob(ctx, Key(table)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to drop cached collection", err)
	}
	return nil
}

// Tables lists tables with a stored snapshot. Stores that cannot enumerate
// keys are probed for every known table.
func (s *Store) Tables(ctx context.Context) ([]models.Table, error) {
	if lister, ok := s.blobs.(storage.Lister); ok {
		keys, err := lister.ListKeys(ctx, KeyPrefix)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to list cached collections", err)
		}
		tables := make([]models.Table, 0, len(keys))
		for _, k := range keys {
			tables = append(tables, models.Table(strings.TrimPrefix(k, KeyPrefix)))
		}
		return tables, nil
	}

	var tables []models.Table
	for _, t := range models.AllTables() {
		_, found, err := s.blobs.ReadBlob(ctx, Key(t))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to probe cached collection", err)
		}
		if found {
			tables = append(tables, t)
		}
	}
	return tables, nil
}
