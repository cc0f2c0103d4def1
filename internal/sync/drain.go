package sync

import (
	"context"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/queue"
	"github.com/stockline/salesync/internal/sync/remote"
)

// drain sends every pending queue item in priority order. Each item's
// outcome is persisted before the next one is sent.
func (e *SyncEngine) drain(ctx context.Context, result *SyncResult) {
	folded, err := e.queue.Deduplicate(ctx)
	if err != nil {
		result.addError(ScopeStorage, "", err)
		return
	}
	result.Deduplicated = folded

	if e.cfg.EvictAfter > 0 {
		evicted, err := e.queue.EvictOlderThan(ctx, e.cfg.EvictAfter)
		if err != nil {
			result.addError(ScopeStorage, "", err)
			return
		}
		result.Evicted = len(evicted)
	}

	items, err := e.queue.Prioritized(ctx)
	if err != nil {
		result.addError(ScopeStorage, "", err)
		return
	}

	for _, queued := range items {
		if ctx.Err() != nil {
			interrupted(ctx, result)
			return
		}
		// Re-read the item: confirming an earlier create may have remapped
		// identities it refers to.
		item, err := e.queue.Get(ctx, queued.ID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			result.addError(ScopeStorage, queued.Table, err)
			return
		}
		if item.IsExhausted() {
			continue
		}
		if !e.send(ctx, item, result) {
			return
		}
	}
}

func interrupted(ctx context.Context, result *SyncResult) {
	result.addError(ScopeStorage, "", remote.Unavailable("drain interrupted", ctx.Err()))
}

// send writes one item. It returns false when the cycle was cancelled during
// the call; the item is left untouched since the failure was not its own.
func (e *SyncEngine) send(ctx context.Context, item *models.QueueItem, result *SyncResult) bool {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	confirmed, err := e.remote.Write(callCtx, item.Table, item.Operation, item.Payload)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			logging.Warn("Drain interrupted, attempt not counted", map[string]interface{}{
				"queue_id": item.ID,
				"table":    item.Table,
				"item_id":  item.TargetID(),
			})
			interrupted(ctx, result)
			return false
		}
		e.recordFailure(ctx, item, remote.Classify(err), result)
		return true
	}
	e.confirm(ctx, item, confirmed, result)
	return true
}

// confirm removes a sent item and propagates a server-assigned identity.
func (e *SyncEngine) confirm(ctx context.Context, item *models.QueueItem, confirmed models.Record, result *SyncResult) {
	if err := e.queue.Remove(ctx, item.ID); err != nil {
		result.addError(ScopeStorage, item.Table, err)
		return
	}
	result.Drained++

	from := item.TargetID()
	logging.Debug("Queue item confirmed", map[string]interface{}{
		"queue_id":  item.ID,
		"table":     item.Table,
		"operation": item.Operation,
		"item_id":   from,
	})

	shown := confirmed
	if shown == nil {
		shown = item.Payload
	}
	if item.Operation == models.OperationCreate && confirmed != nil {
		if to := confirmed.ID(); to != "" && to != from {
			remapped, err := e.queue.RemapIdentity(ctx, item.Table, from, to)
			if err != nil {
				result.addError(ScopeStorage, item.Table, err)
			} else if remapped > 0 {
				logging.Info("Remapped queued references to server identity", map[string]interface{}{
					"table": item.Table,
					"from":  from,
					"to":    to,
					"items": remapped,
				})
			}
		}
	}
	e.applyToCache(ctx, item.Table, item.Operation, from, shown, true)
}

// recordFailure counts a failed attempt. Rejections and the last permitted
// attempt exhaust the item; it stays in the queue so the failure remains
// visible.
func (e *SyncEngine) recordFailure(ctx context.Context, item *models.QueueItem, cause error, result *SyncResult) {
	attempts := item.RetryCount + 1
	status := models.QueueStatusPending
	if !apperrors.Retryable(cause) || attempts >= e.cfg.MaxAttempts {
		status = models.QueueStatusExhausted
	}
	msg := cause.Error()
	now := e.now()

	_, err := e.queue.Update(ctx, item.ID, queue.Patch{
		RetryCount:    &attempts,
		Status:        &status,
		LastError:     &msg,
		LastAttemptAt: &now,
	})
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return
	}
	if err != nil {
		result.addError(ScopeStorage, item.Table, err)
		return
	}

	se := result.addError(ScopeItem, item.Table, cause)
	se.ItemID = item.TargetID()
	se.QueueID = item.ID

	fields := map[string]interface{}{
		"queue_id":  item.ID,
		"table":     item.Table,
		"operation": item.Operation,
		"item_id":   item.TargetID(),
		"attempts":  attempts,
	}
	if status == models.QueueStatusExhausted {
		se.Exhausted = true
		result.Exhausted++
		logging.ErrorWithCode("Queue item exhausted", string(apperrors.CodeOf(cause)), cause, fields)
		return
	}
	logging.Warn("Queue item failed, will retry", fields)
}
