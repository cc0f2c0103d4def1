package sync

import (
	"context"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/queue"
	"github.com/stockline/salesync/internal/sync/remote"
	"github.com/stockline/salesync/internal/uuid"
)

// QueueOrExecute sends m to the remote backend when connectivity is up and
// nothing is queued for the same record; otherwise, or when the immediate
// write fails, it queues m. The only error returned is a failure to persist
// the queued mutation (or an invalid mutation).
func (e *SyncEngine) QueueOrExecute(ctx context.Context, m models.Mutation) (*ExecResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	payload := m.Payload.Clone()
	if m.Operation == models.OperationCreate && payload.ID() == "" {
		payload[models.IDField] = uuid.NewTemp()
	}
	id := payload.ID()

	var reason string
	switch {
	case !e.conn.Online():
		reason = "offline"
	case e.hasPending(ctx, m.Table, id):
		// Sending now would overtake queued mutations of the same record.
		reason = "earlier mutations of this record are queued"
	default:
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		confirmed, err := e.remote.Write(callCtx, m.Table, m.Operation, payload)
		cancel()
		if err == nil {
			shown := confirmed
			if shown == nil {
				shown = payload
			}
			e.applyToCache(ctx, m.Table, m.Operation, id, shown, true)
			logging.Debug("Mutation executed", map[string]interface{}{
				"table":     m.Table,
				"operation": m.Operation,
				"item_id":   id,
			})
			return &ExecResult{Status: ExecStatusExecuted, Record: confirmed}, nil
		}
		err = remote.Classify(err)
		reason = err.Error()
		logging.Warn("Immediate write failed, queueing", map[string]interface{}{
			"table":     m.Table,
			"operation": m.Operation,
			"item_id":   id,
			"error":     reason,
		})
	}

	item := &models.QueueItem{
		Table:     m.Table,
		Operation: m.Operation,
		Payload:   payload,
		Priority:  m.Priority,
	}
	if m.Operation != models.OperationCreate {
		item.Base = e.cachedRecord(ctx, m.Table, id)
	}
	if err := e.queue.Append(ctx, item); err != nil {
		logging.ErrorWithCode("Failed to queue mutation", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"table":     m.Table,
			"operation": m.Operation,
			"item_id":   id,
		})
		return nil, err
	}
	e.applyToCache(ctx, m.Table, m.Operation, id, payload, false)
	return &ExecResult{Status: ExecStatusQueued, Item: item, Reason: reason}, nil
}

// hasPending reports whether a non-exhausted item addresses (table, id). A
// queue read failure counts as pending so the mutation takes the queue path
// and the failure surfaces there.
func (e *SyncEngine) hasPending(ctx context.Context, table models.Table, id string) bool {
	items, err := e.queue.Items(ctx, queue.Filter{Table: table, Status: models.QueueStatusPending})
	if err != nil {
		return true
	}
	for _, item := range items {
		if item.TargetID() == id {
			return true
		}
	}
	return false
}
