package sync

import (
	"context"

	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/queue"
	"github.com/stockline/salesync/internal/sync/remote"
)

// pull reads every tracked table. A failed table is recorded and skipped.
func (e *SyncEngine) pull(ctx context.Context, result *SyncResult) map[models.Table][]models.Record {
	pulled := make(map[models.Table][]models.Record, len(e.cfg.Tables))
	for _, table := range e.cfg.Tables {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		records, err := e.remote.ReadAll(callCtx, table)
		cancel()
		if err != nil {
			err = remote.Classify(err)
			result.addError(ScopeTable, table, err)
			logging.Warn("Pull failed", map[string]interface{}{
				"table": table,
				"error": err.Error(),
			})
			continue
		}
		pulled[table] = records
	}
	return pulled
}

// merge reconciles each pulled table with the cache and pending queue, then
// replaces the cached snapshot.
func (e *SyncEngine) merge(ctx context.Context, pulled map[models.Table][]models.Record, result *SyncResult) {
	if len(pulled) == 0 {
		return
	}
	pending, err := e.queue.Items(ctx, queue.Filter{Status: models.QueueStatusPending})
	if err != nil {
		// Merging without the queue could resurrect deletes or drop creates.
		result.addError(ScopeStorage, "", err)
		return
	}

	for _, table := range e.cfg.Tables {
		records, ok := pulled[table]
		if !ok {
			continue
		}

		e.cacheMu.Lock()
		var cached []models.Record
		if col := e.cache.Get(ctx, table); col != nil {
			cached = col.Items
		}
		merged := e.resolver.MergeCollection(table, records, cached, pending)
		_, err := e.cache.Put(ctx, table, merged.Items)
		e.cacheMu.Unlock()

		if err != nil {
			result.addError(ScopeStorage, table, err)
			continue
		}
		result.Pulled[table] = len(merged.Items)

		if len(merged.Conflicts) == 0 {
			continue
		}
		result.Conflicts += len(merged.Conflicts)
		if err := e.conflicts.Append(ctx, merged.Conflicts...); err != nil {
			logging.Error("Failed to persist conflict log", err, map[string]interface{}{"table": table})
		}
		e.emit(EventConflictDetected, merged.Conflicts)
	}
}

// applyToCache reflects a single mutation in the cached snapshot of table.
// Unconfirmed changes mark the snapshot stale so the next read prefers a
// pull.
func (e *SyncEngine) applyToCache(ctx context.Context, table models.Table, op models.Operation, id string, rec models.Record, confirmed bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	var items []models.Record
	col := e.cache.Get(ctx, table)
	if col != nil {
		items = col.Items
	}
	if _, err := e.cache.Put(ctx, table, applyRecord(items, op, id, rec, confirmed)); err != nil {
		logging.Warn("Failed to update cache", map[string]interface{}{
			"table": table,
			"error": err.Error(),
		})
		return
	}
	if col == nil || !confirmed {
		if err := e.cache.Invalidate(ctx, table); err != nil {
			logging.Warn("Failed to mark cache stale", map[string]interface{}{
				"table": table,
				"error": err.Error(),
			})
		}
	}
}

// cachedRecord returns a copy of the cached record (table, id), or nil.
func (e *SyncEngine) cachedRecord(ctx context.Context, table models.Table, id string) models.Record {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	col := e.cache.Get(ctx, table)
	if col == nil {
		return nil
	}
	for _, rec := range col.Items {
		if rec.ID() == id {
			return rec.Clone()
		}
	}
	return nil
}

// applyRecord returns items with the record identified by id replaced,
// patched or removed according to op.
func applyRecord(items []models.Record, op models.Operation, id string, rec models.Record, full bool) []models.Record {
	out := make([]models.Record, 0, len(items)+1)
	found := false
	for _, it := range items {
		if it.ID() != id {
			out = append(out, it)
			continue
		}
		found = true
		switch op {
		case models.OperationDelete:
		case models.OperationUpdate:
			out = append(out, it.Merge(rec))
		default:
			out = append(out, rec.Clone())
		}
	}
	if !found && (op == models.OperationCreate || (op == models.OperationUpdate && full)) {
		out = append(out, rec.Clone())
	}
	return out
}
