package models

import "time"

// ConflictDecision names which side survived a reconciliation.
type ConflictDecision string

const (
	DecisionKeepLocal  ConflictDecision = "keep_local"
	DecisionKeepRemote ConflictDecision = "keep_remote"
	DecisionMerge      ConflictDecision = "merge"
)

// ConflictLog records a reconciliation that discarded data.
type ConflictLog struct {
	ID         string           `json:"id"`
	Table      Table            `json:"table"`
	ItemID     string           `json:"item_id"`
	Decision   ConflictDecision `json:"decision"`
	Reason     string           `json:"reason"`
	Fields     []string         `json:"fields,omitempty"`
	Local      Record           `json:"local,omitempty"`
	Remote     Record           `json:"remote,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}
