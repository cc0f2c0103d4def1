// Package sync drives offline synchronization: it drains the mutation queue
// against the remote backend, pulls authoritative collections and reconciles
// them with the local cache.
package sync

import (
	"context"

	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/queue"
)

// SyncEngineInterface is the surface exposed to triggers and the UI layer.
// It allows for mocking in tests.
type SyncEngineInterface interface {
	// RunSync performs one sync cycle. Concurrent calls collapse into the
	// running one and return with AlreadyRunning set.
	RunSync(ctx context.Context) *SyncResult

	// QueueOrExecute writes a mutation now when online, or queues it.
	QueueOrExecute(ctx context.Context, m models.Mutation) (*ExecResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync health.
	Status() models.SyncStatus

	// State returns the position in the current cycle.
	State() models.SyncState

	// QueueStats summarizes the queue.
	QueueStats(ctx context.Context) (*queue.Stats, error)

	// Conflicts returns the recorded conflict resolutions.
	Conflicts(ctx context.Context) ([]models.ConflictLog, error)

	// DismissConflicts clears the conflict log.
	DismissConflicts(ctx context.Context) error

	// Cached returns the snapshot of table as the UI should show it.
	Cached(ctx context.Context, table models.Table) (*CachedView, error)

	// RetryExhausted makes exhausted items eligible for the next drain.
	RetryExhausted(ctx context.Context) (int, error)

	// PurgeExhausted drops exhausted items and returns how many were dropped.
	PurgeExhausted(ctx context.Context) (int, error)
}

// Connectivity is a read-only view of network reachability.
type Connectivity interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

var _ SyncEngineInterface = (*SyncEngine)(nil)
