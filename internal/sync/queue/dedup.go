package queue

import (
	"context"
	"sort"

	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
)

type identity struct {
	table models.Table
	id    string
}

// Deduplicate collapses pending items addressing the same (table, identity)
// into a single effective operation and returns how many items were removed.
//
// Folding, in enqueue order:
//   - payload fields of later items overwrite earlier ones
//   - a group starting with a create stays a create
//   - a group starting with a create and ending with a delete is dropped
//   - a delete followed by further writes on a server identity becomes an
//     update carrying the later payload
//   - the survivor takes the highest priority in the group
//
// The survivor carries the folded content in the queue slot of one group
// member, so survivors are never reordered relative to other identities. A
// group starting with a create keeps the create's slot, because items queued
// after it may refer to its identity; any other group keeps the latest slot.
// Exhausted items are left alone.
func (s *Store) Deduplicate(ctx context.Context) (int, error) {
	removed := 0
	var dropped []identity

	err := s.mutate(ctx, func(items []*models.QueueItem) ([]*models.QueueItem, bool, error) {
		groups := make(map[identity][]*models.QueueItem)
		for _, item := range items {
			if item.IsExhausted() || item.TargetID() == "" {
				continue
			}
			key := identity{item.Table, item.TargetID()}
			groups[key] = append(groups[key], item)
		}

		drop := make(map[string]bool)
		for key, group := range groups {
			if len(group) < 2 {
				continue
			}
			sort.SliceStable(group, func(i, j int) bool {
				return group[i].EnqueuedAt.Before(group[j].EnqueuedAt)
			})

			survivor, keep := fold(group)
			for _, item := range group {
				if !keep || item != survivor {
					drop[item.ID] = true
				}
			}
			if !keep {
				dropped = append(dropped, key)
			}
		}
		if len(drop) == 0 {
			return items, false, nil
		}

		kept := items[:0:0]
		for _, item := range items {
			if drop[item.ID] {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		return kept, true, nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		logging.Info("Deduplicated queue", map[string]interface{}{"removed": removed})
	}
	for _, key := range dropped {
		logging.Warn("Dropped create/delete pair that never reached the server", map[string]interface{}{
			"table":   key.table,
			"item_id": key.id,
		})
	}
	return removed, nil
}

// fold rewrites one item of group in place as the group's single effective
// operation. keep is false when the whole group cancels out.
func fold(group []*models.QueueItem) (survivor *models.QueueItem, keep bool) {
	first := group[0]
	survivor = group[len(group)-1]
	if first.Operation == models.OperationCreate {
		survivor = first
	}

	lastDelete := -1
	priority := first.Priority.OrDefault()
	for i, item := range group {
		if item.Operation == models.OperationDelete {
			lastDelete = i
		}
		if item.Priority.Rank() < priority.Rank() {
			priority = item.Priority
		}
	}
	survivor.Priority = priority
	if survivor != first {
		survivor.Base = first.Base
	}

	if lastDelete == len(group)-1 {
		if first.Operation == models.OperationCreate {
			return nil, false
		}
		survivor.Operation = models.OperationDelete
		survivor.Payload = models.Record{models.IDField: survivor.TargetID()}
		return survivor, true
	}

	var payload models.Record
	for _, item := range group[lastDelete+1:] {
		payload = payload.Merge(item.Payload)
	}
	survivor.Payload = payload
	if first.Operation == models.OperationCreate {
		survivor.Operation = models.OperationCreate
	} else {
		survivor.Operation = models.OperationUpdate
	}
	return survivor, true
}
