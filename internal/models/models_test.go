// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/stockline/salesync/internal/errors"
)

// =====================================================
// Table / Operation / Priority Tests
// =====================================================

// TestTable_IsValid verifies the closed set of collections.
func TestTable_IsValid(t *testing.T) {
	for _, tbl := range AllTables() {
		if !tbl.IsValid() {
			t.Errorf("%q should be valid", tbl)
		}
	}
	if Table("orders").IsValid() {
		t.Error("orders should not be a valid table")
	}
	if _, err := ParseTable("customers"); err == nil {
		t.Error("ParseTable(customers) should fail")
	}
}

// TestPriority_Rank verifies processing order critical < high < normal < low.
func TestPriority_Rank(t *testing.T) {
	prios := AllPriorities()
	for i := 1; i < len(prios); i++ {
		if prios[i-1].Rank() >= prios[i].Rank() {
			t.Errorf("%s should rank before %s", prios[i-1], prios[i])
		}
	}
	if Priority("").Rank() != PriorityNormal.Rank() {
		t.Error("empty priority should rank as normal")
	}
	if Priority("").OrDefault() != PriorityNormal {
		t.Error("OrDefault() should return normal for empty priority")
	}
}

// =====================================================
// Record Tests
// =====================================================

// TestRecord_ID verifies identity rendering for string and numeric ids.
func TestRecord_ID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"string", Record{"id": "p1"}, "p1"},
		{"json number", Record{"id": float64(1234567)}, "1234567"},
		{"int", Record{"id": 42}, "42"},
		{"missing", Record{"name": "x"}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRecord_Merge verifies later fields overwrite earlier ones without aliasing.
func TestRecord_Merge(t *testing.T) {
	base := Record{"id": "p1", "qty": 3, "name": "Soap"}
	merged := base.Merge(Record{"qty": 5})

	if merged["qty"] != 5 || merged["name"] != "Soap" {
		t.Errorf("Merge() = %v", merged)
	}
	if base["qty"] != 3 {
		t.Error("Merge() must not modify the receiver")
	}
}

// TestRecord_Equal verifies numeric values compare by value across types.
func TestRecord_Equal(t *testing.T) {
	a := Record{"id": "p1", "qty": 5}
	b := Record{"id": "p1", "qty": float64(5)}
	if !a.Equal(b) {
		t.Error("records with equal numeric values should be equal")
	}
	if a.Equal(Record{"id": "p1", "qty": 6}) {
		t.Error("records with different values should differ")
	}
	if diff := a.DiffFields(Record{"id": "p1", "qty": 6, "name": "x"}); len(diff) != 2 {
		t.Errorf("DiffFields() = %v, want 2 fields", diff)
	}
}

// =====================================================
// QueueItem Tests
// =====================================================

// TestQueueItem_JSONRoundTrip verifies the durable encoding keeps every field.
func TestQueueItem_JSONRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	item := &QueueItem{
		ID:            "q1",
		Table:         TableSales,
		Operation:     OperationUpdate,
		Payload:       Record{"id": "s1", "total": 12.5},
		EnqueuedAt:    at,
		RetryCount:    2,
		Priority:      PriorityHigh,
		Status:        QueueStatusPending,
		LastAttemptAt: &at,
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got QueueItem
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.TargetID() != "s1" || got.RetryCount != 2 || got.Priority != PriorityHigh {
		t.Errorf("round trip = %+v", got)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(at) {
		t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, at)
	}
}

// TestQueueItem_Clone verifies clones do not share payloads.
func TestQueueItem_Clone(t *testing.T) {
	item := &QueueItem{ID: "q1", Payload: Record{"id": "p1", "qty": 1}, Base: Record{"id": "p1", "qty": 0}}
	c := item.Clone()
	c.Payload["qty"] = 2
	c.Base["qty"] = 5
	if item.Payload["qty"] != 1 {
		t.Error("Clone() shares payload with the original")
	}
	if item.Base["qty"] != 0 {
		t.Error("Clone() shares base with the original")
	}
}

// =====================================================
// Mutation Tests
// =====================================================

// TestMutation_Validate verifies malformed mutations are rejected.
func TestMutation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Mutation
		wantErr bool
	}{
		{"valid create", Mutation{Table: TableProducts, Operation: OperationCreate, Payload: Record{"name": "Soap"}}, false},
		{"valid update", Mutation{Table: TableProducts, Operation: OperationUpdate, Payload: Record{"id": "p1"}}, false},
		{"unknown table", Mutation{Table: "orders", Operation: OperationCreate, Payload: Record{"a": 1}}, true},
		{"unknown op", Mutation{Table: TableSales, Operation: "upsert", Payload: Record{"id": "s1"}}, true},
		{"update without id", Mutation{Table: TableSales, Operation: OperationUpdate, Payload: Record{"total": 1}}, true},
		{"delete without id", Mutation{Table: TableSales, Operation: OperationDelete}, true},
		{"empty create", Mutation{Table: TableSellers, Operation: OperationCreate}, true},
		{"bad priority", Mutation{Table: TableSellers, Operation: OperationDelete, Payload: Record{"id": "x"}, Priority: "urgent"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("Validate() code = %s, want %s", apperrors.CodeOf(err), apperrors.ErrInvalid)
			}
		})
	}
}
