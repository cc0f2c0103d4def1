package conflict

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/storage"
)

// LogKey is the blob key holding recorded conflicts.
const LogKey = "sync/conflicts"

// DefaultLogCapacity bounds how many entries are kept; older ones are dropped.
const DefaultLogCapacity = 500

// Log is a persisted, bounded record of conflicts for user review.
type Log struct {
	blobs    storage.BlobStore
	capacity int
	mu       sync.Mutex
}

// NewLog creates a Log keeping at most capacity entries.
func NewLog(blobs storage.BlobStore, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{blobs: blobs, capacity: capacity}
}

func (l *Log) load(ctx context.Context) ([]models.ConflictLog, error) {
	data, found, err := l.blobs.ReadBlob(ctx, LogKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read conflict log", err)
	}
	if !found {
		return nil, nil
	}
	var entries []models.ConflictLog
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupted log must not block new entries.
		logging.Warn("Conflict log is corrupted, starting a new one", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return entries, nil
}

// Append records entries, oldest first.
func (l *Log) Append(ctx context.Context, entries ...models.ConflictLog) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.load(ctx)
	if err != nil {
		return err
	}
	current = append(current, entries...)
	if over := len(current) - l.capacity; over > 0 {
		current = current[over:]
	}

	data, err := json.Marshal(current)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode conflict log", err)
	}
	if err := l.blobs.WriteBlob(ctx, LogKey, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to persist conflict log", err)
	}
	return nil
}

// Entries returns recorded conflicts, oldest first.
func (l *Log) Entries(ctx context.Context) ([]models.ConflictLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load(ctx)
	if entries == nil && err == nil {
		entries = []models.ConflictLog{}
	}
	return entries, err
}

// Clear removes every recorded conflict.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.blobs.DeleteBlob(ctx, LogKey); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to clear conflict log", err)
	}
	return nil
}
