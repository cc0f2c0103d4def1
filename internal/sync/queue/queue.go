// Package queue provides the durable store of mutations that could not be
// sent to the remote backend yet.
package queue

import (
	"context"
	"encoding/json"
	"iter"
	"sort"
	"sync"
	"time"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/storage"
	"github.com/stockline/salesync/internal/uuid"
)

// Key is the blob key holding the whole queue.
const Key = "sync/queue"

const documentVersion = 1

// document is the persisted form of the queue. Items keep append order.
type document struct {
	Version int                 `json:"version"`
	Items   []*models.QueueItem `json:"items"`
}

// Filter narrows List and Items. Zero fields match everything.
type Filter struct {
	Table  models.Table
	Status models.QueueStatus
}

func (f Filter) match(item *models.QueueItem) bool {
	if f.Table != "" && item.Table != f.Table {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	return true
}

// Patch lists the fields Update may change. Nil fields are left untouched.
type Patch struct {
	RetryCount    *int
	Status        *models.QueueStatus
	LastError     *string
	LastAttemptAt *time.Time
	Payload       models.Record
}

// Store persists queue items in a BlobStore. Every mutation is a
// read-modify-write of the whole document under the write lock, so readers
// observe either the state before or after a mutation.
type Store struct {
	blobs storage.BlobStore
	key   string
	now   func() time.Time

	mu sync.RWMutex

	listenersMu sync.RWMutex
	listeners   []func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKey stores the queue under a different blob key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// New creates a Store backed by blobs.
func New(blobs storage.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs: blobs,
		key:   Key,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to run after every successful mutation.
func (s *Store) OnChange(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Store) notify() {
	s.listenersMu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// load reads the document. Callers hold s.mu.
func (s *Store) load(ctx context.Context) ([]*models.QueueItem, error) {
	data, found, err := s.blobs.ReadBlob(ctx, s.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read queue", err)
	}
	if !found || len(data) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "queue document is corrupted", err)
	}
	return doc.Items, nil
}

// save writes the document. Callers hold s.mu for writing.
func (s *Store) save(ctx context.Context, items []*models.QueueItem) error {
	if items == nil {
		items = []*models.QueueItem{}
	}
	data, err := json.Marshal(document{Version: documentVersion, Items: items})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode queue", err)
	}
	if err := s.blobs.WriteBlob(ctx, s.key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to persist queue", err)
	}
	return nil
}

// mutate runs fn over the current items and persists the result when fn
// reports a change.
func (s *Store) mutate(ctx context.Context, fn func(items []*models.QueueItem) ([]*models.QueueItem, bool, error)) error {
	s.mu.Lock()
	items, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next, changed, err := fn(items)
	if err == nil && changed {
		err = s.save(ctx, next)
	}
	s.mu.Unlock()

	if err == nil && changed {
		s.notify()
	}
	return err
}

func (s *Store) snapshot(ctx context.Context) ([]*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx)
}

// Append adds item to the end of the queue. A missing ID is minted, and
// missing priority, status and enqueue time get their defaults. An existing
// ID is never overwritten.
func (s *Store) Append(ctx context.Context, item *models.QueueItem) error {
	if !item.Table.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", item.Table)
	}
	if !item.Operation.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", item.Operation)
	}
	if item.ID == "" {
		item.ID = uuid.New()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = s.now()
	}
	item.Priority = item.Priority.OrDefault()
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}

	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		for _, existing := range items {
			if existing.ID == item.ID {
				return nil, false, apperrors.Newf(apperrors.ErrDuplicate, "queue item %s already exists", item.ID)
			}
		}
		return append(items, item.Clone()), true, nil
	})
	if err != nil {
		return err
	}

	logging.Debug("Enqueued mutation", map[string]interface{}{
		"queue_id":  item.ID,
		"table":     item.Table,
		"operation": item.Operation,
		"item_id":   item.TargetID(),
		"priority":  item.Priority,
	})
	return nil
}

// Items returns a snapshot of the items matching filter in append order.
func (s *Store) Items(ctx context.Context, filter Filter) ([]*models.QueueItem, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		if filter.match(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

// List returns a lazy sequence over the items matching filter. Each range
// over the sequence reads the current state again. Read failures are logged
// and end the sequence.
func (s *Store) List(ctx context.Context, filter Filter) iter.Seq[*models.QueueItem] {
	return func(yield func(*models.QueueItem) bool) {
		items, err := s.Items(ctx, filter)
		if err != nil {
			logging.ErrorWithCode("Failed to list queue", string(apperrors.CodeOf(err)), err)
			return
		}
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}

// Get returns the item with id.
func (s *Store) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", id)
}

// Len returns the number of stored items, exhausted ones included.
func (s *Store) Len(ctx context.Context) (int, error) {
	items, err := s.snapshot(ctx)
	return len(items), err
}

// Remove deletes the item with id. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		for i, item := range items {
			if item.ID == id {
				return append(items[:i:i], items[i+1:]...), true, nil
			}
		}
		return items, false, nil
	})
}

// Update applies patch to the item with id and returns the updated item.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*models.QueueItem, error) {
	var updated *models.QueueItem
	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		for _, item := range items {
			if item.ID != id {
				continue
			}
			if patch.RetryCount != nil {
				item.RetryCount = *patch.RetryCount
			}
			if patch.Status != nil {
				item.Status = *patch.Status
			}
			if patch.LastError != nil {
				item.LastError = *patch.LastError
			}
			if patch.LastAttemptAt != nil {
				at := *patch.LastAttemptAt
				item.LastAttemptAt = &at
			}
			if patch.Payload != nil {
				item.Payload = patch.Payload.Clone()
			}
			updated = item.Clone()
			return items, true, nil
		}
		return nil, false, apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", id)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Prioritized returns pending items ordered by priority, then by enqueue time.
// Items with equal keys keep append order.
func (s *Store) Prioritized(ctx context.Context) ([]*models.QueueItem, error) {
	items, err := s.Items(ctx, Filter{Status: models.QueueStatusPending})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Priority.Rank(), items[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// EvictOlderThan removes every item enqueued more than d ago and returns the
// evicted items. Eviction discards user data, so each item is logged.
func (s *Store) EvictOlderThan(ctx context.Context, d time.Duration) ([]*models.QueueItem, error) {
	cutoff := s.now().Add(-d)
	var evicted []*models.QueueItem

	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		kept := items[:0:0]
		for _, item := range items {
			if item.EnqueuedAt.Before(cutoff) {
				evicted = append(evicted, item)
				continue
			}
			kept = append(kept, item)
		}
		return kept, len(evicted) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	for _, item := range evicted {
		logging.Warn("Evicted stale queue item", map[string]interface{}{
			"queue_id":    item.ID,
			"table":       item.Table,
			"operation":   item.Operation,
			"item_id":     item.TargetID(),
			"enqueued_at": item.EnqueuedAt,
			"retry_count": item.RetryCount,
			"status":      item.Status,
		})
	}
	return evicted, nil
}

// RetryExhausted resets exhausted items to pending with a fresh retry budget.
func (s *Store) RetryExhausted(ctx context.Context) (int, error) {
	count := 0
	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		for _, item := range items {
			if item.IsExhausted() {
				item.Status = models.QueueStatusPending
				item.RetryCount = 0
				item.LastError = ""
				count++
			}
		}
		return items, count > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info("Reset exhausted queue items for retry", map[string]interface{}{"count": count})
	}
	return count, nil
}

// PurgeExhausted deletes exhausted items and returns them.
func (s *Store) PurgeExhausted(ctx context.Context) ([]*models.QueueItem, error) {
	var purged []*models.QueueItem
	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		kept := items[:0:0]
		for _, item := range items {
			if item.IsExhausted() {
				purged = append(purged, item)
				continue
			}
			kept = append(kept, item)
		}
		return kept, len(purged) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	for _, item := range purged {
		logging.Warn("Purged exhausted queue item", map[string]interface{}{
			"queue_id":   item.ID,
			"table":      item.Table,
			"operation":  item.Operation,
			"item_id":    item.TargetID(),
			"last_error": item.LastError,
		})
	}
	return purged, nil
}

// RemapIdentity replaces a temporary identity with the one the server
// assigned. Items addressing (table, from) are retargeted, and any payload
// field in any table holding the exact value from is rewritten, so queued
// references follow the record. It returns the number of items changed.
func (s *Store) RemapIdentity(ctx context.Context, table models.Table, from, to string) (int, error) {
	if from == "" || from == to {
		return 0, nil
	}
	changed := 0
	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		for _, item := range items {
			touched := false
			if item.Table == table && item.TargetID() == from {
				item.Payload[models.IDField] = to
				touched = true
			}
			for k, v := range item.Payload {
				if k == models.IDField {
					continue
				}
				if sv, ok := v.(string); ok && sv == from {
					item.Payload[k] = to
					touched = true
				}
			}
			for k, v := range item.Base {
				if sv, ok := v.(string); ok && sv == from {
					item.Base[k] = to
				}
			}
			if touched {
				changed++
			}
		}
		return items, changed > 0, nil
	})
	return changed, err
}
