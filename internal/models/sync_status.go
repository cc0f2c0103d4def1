package models

import "time"

// SyncState is the orchestrator's position in a sync cycle.
type SyncState string

const (
	SyncStateIdle          SyncState = "idle"
	SyncStateDrainingQueue SyncState = "draining_queue"
	SyncStatePullingRemote SyncState = "pulling_remote"
	SyncStateMerging       SyncState = "merging"
	SyncStateFailed        SyncState = "failed"
)

// SyncOutcome summarizes how the last cycle ended.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomePartial SyncOutcome = "partial"
	SyncOutcomeFailed  SyncOutcome = "failed"
	SyncOutcomeOffline SyncOutcome = "offline"
)

// SyncStatus describes process-wide sync health.
type SyncStatus struct {
	LastSyncAt     *time.Time  `json:"last_sync_at"`
	LastAttemptAt  *time.Time  `json:"last_attempt_at,omitempty"`
	Connectivity   bool        `json:"connectivity"`
	PendingCount   int         `json:"pending_count"`
	ExhaustedCount int         `json:"exhausted_count"`
	LastOutcome    SyncOutcome `json:"last_outcome,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	State          SyncState   `json:"state"`
}
