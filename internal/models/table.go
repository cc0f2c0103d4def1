// Package models provides data model definitions for the sync engine.
package models

import "fmt"

// Table identifies a remote entity collection.
type Table string

const (
	TableProducts Table = "products"
	TableSales    Table = "sales"
	TableSellers  Table = "sellers"
)

// AllTables returns every collection the engine tracks, in pull order.
func AllTables() []Table {
	return []Table{TableProducts, TableSales, TableSellers}
}

// IsValid reports whether t belongs to the closed set of collections.
func (t Table) IsValid() bool {
	switch t {
	case TableProducts, TableSales, TableSellers:
		return true
	}
	return false
}

// ParseTable converts a string into a Table.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown table %q", s)
	}
	return t, nil
}

// Operation is the kind of mutation applied to a record.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid reports whether o is a known operation.
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Priority orders queue processing. It never causes an item to be dropped.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the processing rank, lower first. Unknown priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// OrDefault returns p, or PriorityNormal when p is empty.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}

// AllPriorities returns priorities from most to least urgent.
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
}
