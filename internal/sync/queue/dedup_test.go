package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stockline/salesync/internal/models"
)

// TestDeduplicate_updatesMerge verifies later fields overwrite earlier ones.
func TestDeduplicate_updatesMerge(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1", "qty": 1, "name": "Soap"}, models.PriorityLow)
	last := mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1", "qty": 5}, models.PriorityHigh)

	removed, err := s.Deduplicate(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Deduplicate() = %d, %v", removed, err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 || items[0].ID != last.ID {
		t.Fatalf("survivor = %+v, want %s", items, last.ID)
	}
	got := items[0]
	if got.Payload["name"] != "Soap" || models.FormatID(got.Payload["qty"]) != "5" {
		t.Errorf("payload = %v", got.Payload)
	}
	if got.Priority != models.PriorityHigh || got.Operation != models.OperationUpdate {
		t.Errorf("survivor = %+v", got)
	}
}

// TestDeduplicate_createStaysCreate verifies create + update folds into a create.
func TestDeduplicate_createStaysCreate(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableSales, models.OperationCreate, models.Record{"id": "tmp_1", "total": 10}, models.PriorityCritical)
	mustAppend(t, s, clock, models.TableSales, models.OperationUpdate, models.Record{"id": "tmp_1", "total": 12}, "")

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 {
		t.Fatalf("len = %d, want 1", len(items))
	}
	if items[0].Operation != models.OperationCreate || items[0].Priority != models.PriorityCritical {
		t.Errorf("survivor = %+v", items[0])
	}
	if models.FormatID(items[0].Payload["total"]) != "12" {
		t.Errorf("total = %v, want 12", items[0].Payload["total"])
	}
}

// TestDeduplicate_createKeepsItsSlot verifies a folded create is not moved
// behind items that refer to it.
func TestDeduplicate_createKeepsItsSlot(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	product := mustAppend(t, s, clock, models.TableProducts, models.OperationCreate, models.Record{"id": "tmp_p", "name": "Tea"}, "")
	sale := mustAppend(t, s, clock, models.TableSales, models.OperationCreate, models.Record{"id": "tmp_s", "product_id": "tmp_p"}, "")
	mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "tmp_p", "stock": 4}, "")

	removed, err := s.Deduplicate(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Deduplicate() = %d, %v", removed, err)
	}
	items, err := s.Prioritized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != product.ID || items[1].ID != sale.ID {
		t.Fatalf("order = %+v, want product create before sale", items)
	}
	got := items[0]
	if got.Operation != models.OperationCreate || got.Payload["name"] != "Tea" || models.FormatID(got.Payload["stock"]) != "4" {
		t.Errorf("survivor = %+v", got)
	}
	if !got.EnqueuedAt.Equal(product.EnqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, product.EnqueuedAt)
	}
}

// TestDeduplicate_createThenDeleteDropped verifies the pair cancels out.
func TestDeduplicate_createThenDeleteDropped(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableSellers, models.OperationCreate, models.Record{"id": "tmp_v", "name": "Ana"}, "")
	mustAppend(t, s, clock, models.TableSellers, models.OperationUpdate, models.Record{"id": "tmp_v", "name": "Ana B"}, "")
	mustAppend(t, s, clock, models.TableSellers, models.OperationDelete, models.Record{"id": "tmp_v"}, "")
	keep := mustAppend(t, s, clock, models.TableSellers, models.OperationUpdate, models.Record{"id": "v2"}, "")

	removed, err := s.Deduplicate(ctx)
	if err != nil || removed != 3 {
		t.Fatalf("Deduplicate() = %d, %v", removed, err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 || items[0].ID != keep.ID {
		t.Errorf("items = %+v", items)
	}
}

// TestDeduplicate_updateThenDelete verifies the delete survives.
func TestDeduplicate_updateThenDelete(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1", "qty": 3}, "")
	mustAppend(t, s, clock, models.TableProducts, models.OperationDelete, models.Record{"id": "p1"}, "")

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 || items[0].Operation != models.OperationDelete {
		t.Fatalf("items = %+v", items)
	}
	if len(items[0].Payload) != 1 || items[0].TargetID() != "p1" {
		t.Errorf("delete payload = %v", items[0].Payload)
	}
}

// TestDeduplicate_keepsEarliestBase verifies the folded item compares against
// the record as it was before the first local change.
func TestDeduplicate_keepsEarliestBase(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	first := &models.QueueItem{
		Table:     models.TableProducts,
		Operation: models.OperationUpdate,
		Payload:   models.Record{"id": "p1", "stock": 3},
		Base:      models.Record{"id": "p1", "stock": 10},
	}
	if err := s.Append(ctx, first); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	del := &models.QueueItem{
		Table:     models.TableProducts,
		Operation: models.OperationDelete,
		Payload:   models.Record{"id": "p1"},
		Base:      models.Record{"id": "p1", "stock": 3},
	}
	if err := s.Append(ctx, del); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 || items[0].ID != del.ID || items[0].Operation != models.OperationDelete {
		t.Fatalf("items = %+v", items)
	}
	if models.FormatID(items[0].Base["stock"]) != "10" {
		t.Errorf("base = %v, want stock 10", items[0].Base)
	}
}

// TestDeduplicate_deleteThenRecreate verifies a recreate of a server record
// becomes an update carrying the new payload.
func TestDeduplicate_deleteThenRecreate(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableProducts, models.OperationDelete, models.Record{"id": "p1"}, "")
	mustAppend(t, s, clock, models.TableProducts, models.OperationCreate, models.Record{"id": "p1", "name": "New"}, "")

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Items(ctx, Filter{})
	if len(items) != 1 || items[0].Operation != models.OperationUpdate || items[0].Payload["name"] != "New" {
		t.Errorf("items = %+v", items)
	}
}

// TestDeduplicate_preservesRelativeOrder verifies survivors keep their positions
// relative to other identities.
func TestDeduplicate_preservesRelativeOrder(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "a"}, "")
	b := mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "b"}, "")
	a2 := mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "a", "x": 1}, "")
	c := mustAppend(t, s, clock, models.TableSales, models.OperationUpdate, models.Record{"id": "a"}, "")

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := s.Items(ctx, Filter{})
	want := []string{b.ID, a2.ID, c.ID}
	if len(items) != len(want) {
		t.Fatalf("len = %d, want %d", len(items), len(want))
	}
	for i := range want {
		if items[i].ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, items[i].ID, want[i])
		}
	}
}

// TestDeduplicate_idempotent verifies at most one effective operation per
// identity and that a second pass changes nothing.
func TestDeduplicate_idempotent(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1", "qty": i}, "")
		mustAppend(t, s, clock, models.TableSales, models.OperationUpdate, models.Record{"id": "s1", "n": i}, "")
	}

	if _, err := s.Deduplicate(ctx); err != nil {
		t.Fatal(err)
	}
	seen := map[identity]int{}
	for item := range s.List(ctx, Filter{}) {
		seen[identity{item.Table, item.TargetID()}]++
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("%v has %d operations, want 1", key, n)
		}
	}

	removed, err := s.Deduplicate(ctx)
	if err != nil || removed != 0 {
		t.Errorf("second Deduplicate() = %d, %v", removed, err)
	}
}

// TestDeduplicate_skipsExhausted verifies exhausted items are not folded.
func TestDeduplicate_skipsExhausted(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	old := mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1"}, "")
	status := models.QueueStatusExhausted
	if _, err := s.Update(ctx, old.ID, Patch{Status: &status}); err != nil {
		t.Fatal(err)
	}
	mustAppend(t, s, clock, models.TableProducts, models.OperationUpdate, models.Record{"id": "p1", "qty": 1}, "")

	removed, err := s.Deduplicate(ctx)
	if err != nil || removed != 0 {
		t.Errorf("Deduplicate() = %d, %v; exhausted items must be left alone", removed, err)
	}
}
