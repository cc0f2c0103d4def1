package models

import "time"

// CachedCollection is the last successful snapshot of a remote collection.
type CachedCollection struct {
	Table         Table     `json:"table"`
	Items         []Record  `json:"items"`
	LastUpdated   time.Time `json:"last_updated"`
	SchemaVersion int       `json:"schema_version"`
	// Stale is set when unconfirmed local changes were applied after the
	// last pull.
	Stale         bool      `json:"stale,omitempty"`
}

// Find returns the record with the given identity and its index, or -1.
func (c *CachedCollection) Find(id string) (Record, int) {
	for i, item := range c.Items {
		if item.ID() == id {
			return item, i
		}
	}
	return nil, -1
}
