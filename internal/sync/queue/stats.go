package queue

import (
	"context"
	"time"

	"github.com/stockline/salesync/internal/models"
)

// Stats summarizes the queue for the UI.
type Stats struct {
	Total          int                     `json:"total"`
	Pending        int                     `json:"pending"`
	ExhaustedCount int                     `json:"exhausted_count"`
	ByPriority     map[models.Priority]int `json:"by_priority"`
	ByTable        map[models.Table]int    `json:"by_table"`
	OldestAge      time.Duration           `json:"oldest_age_ns"`
	OldestAt       *time.Time              `json:"oldest_enqueued_at,omitempty"`
}

// Stats counts stored items by priority, table and status.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      len(items),
		ByPriority: make(map[models.Priority]int),
		ByTable:    make(map[models.Table]int),
	}
	for _, p := range models.AllPriorities() {
		stats.ByPriority[p] = 0
	}

	var oldest time.Time
	for _, item := range items {
		if item.IsExhausted() {
			stats.ExhaustedCount++
		} else {
			stats.Pending++
		}
		stats.ByPriority[item.Priority.OrDefault()]++
		stats.ByTable[item.Table]++
		if oldest.IsZero() || item.EnqueuedAt.Before(oldest) {
			oldest = item.EnqueuedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestAt = &oldest
		stats.OldestAge = s.now().Sub(oldest)
	}
	return stats, nil
}
