package sync

import (
	"time"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/models"
)

// ErrorScope tells which step of a cycle produced a SyncError.
type ErrorScope string

const (
	ScopeItem    ErrorScope = "item"
	ScopeTable   ErrorScope = "table"
	ScopeStorage ErrorScope = "storage"
)

// SyncError is one failure accumulated during a cycle.
type SyncError struct {
	Scope     ErrorScope          `json:"scope"`
	Table     models.Table        `json:"table,omitempty"`
	ItemID    string              `json:"item_id,omitempty"`
	QueueID   string              `json:"queue_id,omitempty"`
	Code      apperrors.ErrorCode `json:"code"`
	Message   string              `json:"message"`
	Exhausted bool                `json:"exhausted,omitempty"`
}

// SyncResult reports what one RunSync call did.
type SyncResult struct {
	Succeeded      bool                 `json:"succeeded"`
	AlreadyRunning bool                 `json:"already_running,omitempty"`
	Outcome        models.SyncOutcome   `json:"outcome,omitempty"`
	FailedCount    int                  `json:"failed_count"`
	Errors         []SyncError          `json:"errors"`
	Drained        int                  `json:"drained"`
	Deduplicated   int                  `json:"deduplicated"`
	Evicted        int                  `json:"evicted"`
	Exhausted      int                  `json:"exhausted"`
	Pulled         map[models.Table]int `json:"pulled"`
	Conflicts      int                  `json:"conflicts"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       time.Duration        `json:"duration_ns"`
}

func newResult(start time.Time) *SyncResult {
	return &SyncResult{
		StartedAt: start,
		Errors:    []SyncError{},
		Pulled:    make(map[models.Table]int),
	}
}

func (r *SyncResult) addError(scope ErrorScope, table models.Table, err error) *SyncError {
	r.Errors = append(r.Errors, SyncError{
		Scope:   scope,
		Table:   table,
		Code:    apperrors.CodeOf(err),
		Message: err.Error(),
	})
	return &r.Errors[len(r.Errors)-1]
}

// outcome classifies a finished online cycle.
func (r *SyncResult) outcome() models.SyncOutcome {
	switch {
	case len(r.Errors) == 0:
		return models.SyncOutcomeSuccess
	case r.Drained > 0 || len(r.Pulled) > 0:
		return models.SyncOutcomePartial
	default:
		return models.SyncOutcomeFailed
	}
}

// ExecStatus tells whether a mutation reached the server.
type ExecStatus string

const (
	ExecStatusExecuted ExecStatus = "executed"
	ExecStatusQueued   ExecStatus = "queued"
)

// ExecResult is returned by QueueOrExecute.
type ExecResult struct {
	Status ExecStatus `json:"status"`
	// Record is the confirmed record for executed mutations.
	Record models.Record `json:"record,omitempty"`
	// Item is the queued mutation for queued ones.
	Item *models.QueueItem `json:"item,omitempty"`
	// Reason explains why an online write was queued instead.
	Reason string `json:"reason,omitempty"`
}

// CachedView is a cached collection with its freshness.
type CachedView struct {
	Table       models.Table    `json:"table"`
	Items       []models.Record `json:"items"`
	LastUpdated *time.Time      `json:"last_updated"`
	Fresh       bool            `json:"fresh"`
}
