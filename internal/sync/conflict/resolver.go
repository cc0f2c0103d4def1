// Package conflict reconciles pending local mutations with freshly pulled
// remote data.
//
// The remote backend is authoritative: a pulled value replaces the cached one
// unless a pending mutation still has to reach the server. Pending creates
// and deletes are protected, pending updates are re-sent on the next drain.
package conflict

import (
	"time"

	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/uuid"
)

// Strategy controls how a pending update is shown in the cache before it has
// been sent.
type Strategy string

const (
	// StrategyRemoteWins caches the remote value and records the displaced
	// local fields as a conflict.
	StrategyRemoteWins Strategy = "remote-wins"
	// StrategyMergePending overlays the pending fields on the remote value.
	StrategyMergePending Strategy = "merge-pending"
)

// Local is the client-side state for one identity.
type Local struct {
	// Pending is the effective unsent mutation, or nil.
	Pending *models.QueueItem
	// Cached is the record currently shown to the UI, or nil.
	Cached models.Record
}

// Decision is the outcome of reconciling one identity.
type Decision struct {
	Outcome models.ConflictDecision
	// Record is what the cache should hold; nil removes the identity.
	Record models.Record
	// ApplyPending reports that the pending mutation must still be sent.
	ApplyPending bool
	// Discards reports that a value was displaced and must be logged.
	Discards bool
	Fields   []string
	Reason   string
}

// Resolver applies the reconciliation rules.
type Resolver struct {
	strategy Strategy
	now      func() time.Time
}

// NewResolver creates a Resolver. Unknown strategies fall back to remote-wins.
func NewResolver(strategy Strategy) *Resolver {
	if strategy != StrategyMergePending {
		strategy = StrategyRemoteWins
	}
	return &Resolver{strategy: strategy, now: time.Now}
}

// Strategy returns the configured pending update strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve decides what the cache holds for one identity given the local
// state and the remote record (nil when the identity is absent remotely).
func (r *Resolver) Resolve(local Local, remote models.Record) (*Decision, error) {
	if remote != nil {
		if id := localID(local); id != "" && id != remote.ID() {
			return nil, ErrItemIDMismatch
		}
	}

	pending := local.Pending
	if pending == nil {
		if remote == nil {
			return &Decision{Outcome: models.DecisionKeepRemote, Reason: "absent remotely"}, nil
		}
		return &Decision{Outcome: models.DecisionKeepRemote, Record: remote, Reason: "remote is authoritative"}, nil
	}

	switch pending.Operation {
	case models.OperationCreate:
		return r.resolveCreate(local, remote), nil
	case models.OperationDelete:
		return resolveDelete(pending, remote), nil
	default:
		return r.resolveUpdate(local, remote), nil
	}
}

func (r *Resolver) resolveCreate(local Local, remote models.Record) *Decision {
	pending := local.Pending
	if remote == nil || uuid.IsTemp(pending.TargetID()) {
		return &Decision{
			Outcome:      models.DecisionKeepLocal,
			Record:       local.Cached.Merge(pending.Payload),
			ApplyPending: true,
			Reason:       "pending create is not on the server yet",
		}
	}

	// A client-chosen identity already exists remotely, so an earlier send
	// most likely landed. The server copy wins.
	fields := remote.DiffFields(pending.Payload)
	return &Decision{
		Outcome:      models.DecisionKeepRemote,
		Record:       remote,
		ApplyPending: true,
		Discards:     len(fields) > 0,
		Fields:       fields,
		Reason:       "pending create already exists remotely",
	}
}

// resolveDelete keeps the record hidden. Remote fields that changed since the
// delete was queued are displaced by it and get logged.
func resolveDelete(pending *models.QueueItem, remote models.Record) *Decision {
	d := &Decision{
		Outcome:      models.DecisionKeepLocal,
		ApplyPending: true,
		Reason:       "pending delete suppresses the pulled record",
	}
	if remote == nil || pending.Base == nil {
		return d
	}
	if fields := pending.Base.DiffFields(remote); len(fields) > 0 {
		d.Discards = true
		d.Fields = fields
		d.Reason = "pending delete suppresses a remote update"
	}
	return d
}

func (r *Resolver) resolveUpdate(local Local, remote models.Record) *Decision {
	pending := local.Pending
	if remote == nil {
		return &Decision{
			Outcome:      models.DecisionKeepRemote,
			ApplyPending: true,
			Discards:     true,
			Fields:       models.Record{}.DiffFields(pending.Payload),
			Reason:       "record with a pending update was deleted remotely",
		}
	}

	fields := remote.DiffFields(pending.Payload)
	if r.strategy == StrategyMergePending {
		return &Decision{
			Outcome:      models.DecisionMerge,
			Record:       remote.Merge(pending.Payload),
			ApplyPending: true,
			Discards:     len(fields) > 0,
			Fields:       fields,
			Reason:       "pending update overlaid on remote value",
		}
	}
	return &Decision{
		Outcome:      models.DecisionKeepRemote,
		Record:       remote,
		ApplyPending: true,
		Discards:     len(fields) > 0,
		Fields:       fields,
		Reason:       "remote value replaces unsent local edit until it is sent",
	}
}

func localID(local Local) string {
	if local.Pending != nil {
		return local.Pending.TargetID()
	}
	return local.Cached.ID()
}

// MergeResult is the reconciled collection for one table.
type MergeResult struct {
	Items     []models.Record
	Conflicts []models.ConflictLog
}

// MergeCollection reconciles a pulled collection with the cached snapshot and
// the pending queue items of table. Remote order is kept; records created
// locally and not yet confirmed are appended in queue order.
func (r *Resolver) MergeCollection(table models.Table, remote []models.Record, cached []models.Record, pending []*models.QueueItem) *MergeResult {
	effective, order := effectivePending(table, pending)

	cachedByID := make(map[string]models.Record, len(cached))
	for _, rec := range cached {
		cachedByID[rec.ID()] = rec
	}

	result := &MergeResult{Items: make([]models.Record, 0, len(remote)+len(order))}
	seen := make(map[string]bool, len(remote))

	record := func(id string, remoteRec models.Record) {
		local := Local{Pending: effective[id], Cached: cachedByID[id]}
		decision, err := r.Resolve(local, remoteRec)
		if err != nil {
			// Identities are matched by key, so this cannot happen; keep the remote value.
			logging.Error("Unexpected conflict resolution failure", err, map[string]interface{}{"table": table, "item_id": id})
			if remoteRec != nil {
				result.Items = append(result.Items, remoteRec)
			}
			return
		}
		if decision.Record != nil {
			result.Items = append(result.Items, decision.Record)
		}
		if decision.Discards {
			result.Conflicts = append(result.Conflicts, r.entry(table, id, local, remoteRec, decision))
		}
	}

	for _, rec := range remote {
		id := rec.ID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		record(id, rec)
	}
	for _, id := range order {
		if !seen[id] {
			record(id, nil)
		}
	}
	return result
}

func (r *Resolver) entry(table models.Table, id string, local Local, remote models.Record, d *Decision) models.ConflictLog {
	localRec := local.Cached
	if local.Pending != nil {
		localRec = local.Pending.Payload
		if local.Pending.Operation == models.OperationDelete && local.Pending.Base != nil {
			localRec = local.Pending.Base
		}
	}
	entry := models.ConflictLog{
		ID:         uuid.New(),
		Table:      table,
		ItemID:     id,
		Decision:   d.Outcome,
		Reason:     d.Reason,
		Fields:     d.Fields,
		Local:      localRec.Clone(),
		Remote:     remote.Clone(),
		DetectedAt: r.now(),
	}

	logging.Warn("Conflict resolved", map[string]interface{}{
		"table":    table,
		"item_id":  id,
		"decision": d.Outcome,
		"reason":   d.Reason,
		"fields":   d.Fields,
	})
	return entry
}

// effectivePending folds the pending items of table into one mutation per
// identity, in first-seen order.
func effectivePending(table models.Table, pending []*models.QueueItem) (map[string]*models.QueueItem, []string) {
	byID := make(map[string]*models.QueueItem)
	var order []string
	for _, item := range pending {
		if item.Table != table || item.IsExhausted() {
			continue
		}
		id := item.TargetID()
		if id == "" {
			continue
		}
		cur, ok := byID[id]
		if !ok {
			byID[id] = item.Clone()
			order = append(order, id)
			continue
		}
		switch {
		case item.Operation == models.OperationDelete:
			cur.Operation = models.OperationDelete
		case cur.Operation == models.OperationDelete:
			cur.Operation = models.OperationUpdate
			cur.Payload = item.Payload.Clone()
			continue
		}
		cur.Payload = cur.Payload.Merge(item.Payload)
	}
	return byID, order
}

// Errors
var (
	ErrItemIDMismatch = &ConflictError{Message: "item ID mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
