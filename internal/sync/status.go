package sync

import (
	"context"
	"encoding/json"

	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
)

// StatusKey is the blob key holding the persisted SyncStatus.
const StatusKey = "sync/status"

// Status returns the sync health with live queue counts.
func (e *SyncEngine) Status() models.SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := e.status
	status.State = e.state
	return status
}

// loadStatus restores the last persisted status. A missing or unreadable
// blob starts from "never synced".
func (e *SyncEngine) loadStatus(ctx context.Context) models.SyncStatus {
	status := models.SyncStatus{State: models.SyncStateIdle}
	data, found, err := e.blobs.ReadBlob(ctx, StatusKey)
	if err != nil {
		logging.Warn("Failed to read sync status", map[string]interface{}{"error": err.Error()})
		return status
	}
	if !found {
		return status
	}
	if err := json.Unmarshal(data, &status); err != nil {
		logging.Warn("Sync status is corrupted, resetting", map[string]interface{}{"error": err.Error()})
		return models.SyncStatus{State: models.SyncStateIdle}
	}
	// A cycle interrupted by process exit never persisted a final state.
	status.State = models.SyncStateIdle
	return status
}

// storeStatus replaces the in-memory status and persists it. A write failure
// is logged; the in-memory status is still updated.
func (e *SyncEngine) storeStatus(ctx context.Context, status models.SyncStatus) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()

	data, err := json.Marshal(status)
	if err != nil {
		logging.Error("Failed to encode sync status", err, nil)
		return
	}
	if err := e.blobs.WriteBlob(ctx, StatusKey, data); err != nil {
		logging.Error("Failed to persist sync status", err, nil)
	}
}

// refreshCounts updates the derived queue counts of the in-memory status.
func (e *SyncEngine) refreshCounts(ctx context.Context) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.status.PendingCount = stats.Pending
	e.status.ExhaustedCount = stats.ExhaustedCount
	e.mu.Unlock()
}
