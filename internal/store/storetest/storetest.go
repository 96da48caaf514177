// Package storetest holds the behavioral contract every storage engine
// must satisfy. Each engine's test package runs the same suite against
// its own constructor, which is what keeps the engines interchangeable.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full engine contract against the factory.
func Run(t *testing.T, open Factory) {
	t.Run("UpsertAndGet", func(t *testing.T) { testUpsertAndGet(t, open) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, open) })
	t.Run("QueryTenantScoped", func(t *testing.T) { testQueryTenantScoped(t, open) })
	t.Run("QueryOrdering", func(t *testing.T) { testQueryOrdering(t, open) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open) })
	t.Run("ClearTenant", func(t *testing.T) { testClearTenant(t, open) })
	t.Run("MarkRecordSynced", func(t *testing.T) { testMarkRecordSynced(t, open) })
	t.Run("Flags", func(t *testing.T) { testFlags(t, open) })
	t.Run("QueueLifecycle", func(t *testing.T) { testQueueLifecycle(t, open) })
	t.Run("QueueOrdering", func(t *testing.T) { testQueueOrdering(t, open) })
	t.Run("QueuePendingFilter", func(t *testing.T) { testQueuePendingFilter(t, open) })
	t.Run("QueueResetProcessing", func(t *testing.T) { testQueueResetProcessing(t, open) })
}

func mustDoc(t *testing.T, c record.Collection, id, tenant string, at time.Time) *record.Doc {
	t.Helper()
	doc, err := record.NewDoc(c, id, tenant, at, map[string]string{"id": id, "tenant_id": tenant})
	if err != nil {
		t.Fatalf("Failed to build doc: %v", err)
	}
	return doc
}

func testUpsertAndGet(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	doc := mustDoc(t, record.Products, "p1", "t1", time.Now().UTC())
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, record.Products, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "p1" || got.TenantID != "t1" || got.Collection != record.Products {
		t.Errorf("Got %+v, want p1/t1/products", got)
	}
	if got.Synced {
		t.Error("New record should not be marked synced")
	}
}

func testGetMissing(t *testing.T, open Factory) {
	s := open(t)

	_, err := s.Get(context.Background(), record.Products, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testUpsertOverwrites(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	first := mustDoc(t, record.Customers, "c1", "t1", time.Now().UTC())
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	later := time.Now().UTC().Add(time.Hour)
	second := mustDoc(t, record.Customers, "c1", "t1", later)
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := s.Get(ctx, record.Customers, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("Expected last write to win: got %v, want %v", got.UpdatedAt, later)
	}

	docs, err := s.Query(ctx, record.Customers, "t1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected 1 record after overwrite, got %d", len(docs))
	}
}

func testQueryTenantScoped(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Upsert(ctx,
		mustDoc(t, record.Products, "a", "t1", now),
		mustDoc(t, record.Products, "b", "t1", now),
		mustDoc(t, record.Products, "c", "t2", now),
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	docs, err := s.Query(ctx, record.Products, "t1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 records for t1, got %d", len(docs))
	}
	for _, d := range docs {
		if d.TenantID != "t1" {
			t.Errorf("Query leaked tenant %s record %s", d.TenantID, d.ID)
		}
	}

	all, err := s.AllDocs(ctx, record.Products)
	if err != nil {
		t.Fatalf("AllDocs failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 records across tenants, got %d", len(all))
	}
}

func testQueryOrdering(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if err := s.Upsert(ctx,
		mustDoc(t, record.Students, "s3", "t1", base.Add(2*time.Second)),
		mustDoc(t, record.Students, "s1", "t1", base),
		mustDoc(t, record.Students, "s2", "t1", base.Add(time.Second)),
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	docs, err := s.Query(ctx, record.Students, "t1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []string{"s1", "s2", "s3"}
	for i, d := range docs {
		if d.ID != want[i] {
			t.Errorf("Position %d: got %s, want %s", i, d.ID, want[i])
		}
	}
}

func testDelete(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	doc := mustDoc(t, record.Classes, "k1", "t1", time.Now().UTC())
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Delete(ctx, record.Classes, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, record.Classes, "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing record is not an error.
	if err := s.Delete(ctx, record.Classes, "k1"); err != nil {
		t.Errorf("Deleting missing record should be a no-op, got %v", err)
	}
}

func testClearTenant(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Upsert(ctx,
		mustDoc(t, record.Products, "p1", "gone", now),
		mustDoc(t, record.Sales, "s1", "gone", now),
		mustDoc(t, record.Products, "p2", "kept", now),
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := s.ClearTenant(ctx, "gone"); err != nil {
		t.Fatalf("ClearTenant failed: %v", err)
	}

	for _, c := range []record.Collection{record.Products, record.Sales} {
		docs, err := s.Query(ctx, c, "gone")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("Expected no %s records for cleared tenant, got %d", c, len(docs))
		}
	}

	if _, err := s.Get(ctx, record.Products, "p2"); err != nil {
		t.Errorf("Other tenant's record should survive, got %v", err)
	}
}

func testMarkRecordSynced(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Upsert(ctx,
		mustDoc(t, record.Sales, "s1", "t1", now),
		mustDoc(t, record.Products, "p1", "t1", now),
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	at := now.Add(time.Minute)
	if err := s.MarkRecordSynced(ctx, record.Sales, "s1", at); err != nil {
		t.Fatalf("MarkRecordSynced failed: %v", err)
	}
	if err := s.MarkRecordSynced(ctx, record.Products, "p1", at); err != nil {
		t.Fatalf("MarkRecordSynced failed: %v", err)
	}

	sale, err := s.Get(ctx, record.Sales, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !sale.Synced {
		t.Error("Sale should carry synced=true after delivery")
	}

	prod, err := s.Get(ctx, record.Products, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if prod.SyncedAt == nil || !prod.SyncedAt.Equal(at) {
		t.Errorf("Product should carry synced_at=%v, got %v", at, prod.SyncedAt)
	}
	if prod.Synced {
		t.Error("Reference collections do not use the synced flag")
	}

	// Missing records are ignored.
	if err := s.MarkRecordSynced(ctx, record.Sales, "missing", at); err != nil {
		t.Errorf("Marking a missing record should be a no-op, got %v", err)
	}
}

func testFlags(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	if _, err := s.GetFlag(ctx, "unset"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unset flag, got %v", err)
	}

	if err := s.SetFlag(ctx, "schema_version", "2"); err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}
	if err := s.SetFlag(ctx, "schema_version", "3"); err != nil {
		t.Fatalf("SetFlag overwrite failed: %v", err)
	}

	got, err := s.GetFlag(ctx, "schema_version")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if got != "3" {
		t.Errorf("Expected flag value 3, got %s", got)
	}
}

func enqueue(t *testing.T, s store.Store, op queue.Op, c record.Collection, tenant string, createdAt int64) int64 {
	t.Helper()
	id, err := s.EnqueueItem(context.Background(), &queue.Item{
		Op:         op,
		Collection: c,
		TenantID:   tenant,
		Payload:    []byte(`{"id":"x1"}`),
		CreatedAt:  createdAt,
		Status:     queue.StatusPending,
	})
	if err != nil {
		t.Fatalf("EnqueueItem failed: %v", err)
	}
	return id
}

func testQueueLifecycle(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	id := enqueue(t, s, queue.OpCreate, record.Sales, "t1", 1000)
	if id <= 0 {
		t.Fatalf("Expected positive item id, got %d", id)
	}

	item, err := s.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Op != queue.OpCreate || item.Status != queue.StatusPending {
		t.Errorf("Got %+v, want pending create", item)
	}

	item.Status = queue.StatusFailed
	item.RetryCount = 2
	item.LastError = "remote returned 500"
	if err := s.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	got, err := s.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Status != queue.StatusFailed || got.RetryCount != 2 || got.LastError == "" {
		t.Errorf("Update not persisted: %+v", got)
	}

	if err := s.DeleteItem(ctx, id); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if _, err := s.GetItem(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteItem(ctx, id); err != nil {
		t.Errorf("Deleting missing item should be a no-op, got %v", err)
	}
}

func testQueueOrdering(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	// Enqueue out of creation order.
	enqueue(t, s, queue.OpCreate, record.Sales, "t1", 3000)
	enqueue(t, s, queue.OpCreate, record.Sales, "t1", 1000)
	enqueue(t, s, queue.OpCreate, record.Sales, "t1", 2000)

	items, err := s.PendingItems(ctx, "", queue.MaxRetries)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 pending items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt < items[i-1].CreatedAt {
			t.Errorf("Items out of creation order: %d before %d",
				items[i-1].CreatedAt, items[i].CreatedAt)
		}
	}

	// IDs assigned in enqueue order must be monotonic.
	list, err := s.ListItems(ctx, "")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 listed items, got %d", len(list))
	}
}

func testQueuePendingFilter(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	pendingID := enqueue(t, s, queue.OpCreate, record.Sales, "t1", 1000)
	otherTenant := enqueue(t, s, queue.OpCreate, record.Sales, "t2", 1100)
	cappedID := enqueue(t, s, queue.OpUpdate, record.Sales, "t1", 1200)

	capped, err := s.GetItem(ctx, cappedID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	capped.Status = queue.StatusFailed
	capped.RetryCount = queue.MaxRetries
	if err := s.UpdateItem(ctx, capped); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	items, err := s.PendingItems(ctx, "t1", queue.MaxRetries)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != pendingID {
		t.Errorf("Expected only item %d eligible for t1, got %+v", pendingID, items)
	}

	all, err := s.PendingItems(ctx, "", queue.MaxRetries)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 eligible items across tenants, got %d", len(all))
	}
	_ = otherTenant

	depth, err := s.QueueDepth(ctx, "t1")
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if depth != 2 {
		t.Errorf("Depth counts all statuses: got %d, want 2", depth)
	}
}

func testQueueResetProcessing(t *testing.T, open Factory) {
	s := open(t)
	ctx := context.Background()

	id1 := enqueue(t, s, queue.OpCreate, record.Sales, "t1", 1000)
	id2 := enqueue(t, s, queue.OpCreate, record.Sales, "t1", 2000)

	for _, id := range []int64{id1, id2} {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			t.Fatalf("GetItem failed: %v", err)
		}
		item.Status = queue.StatusProcessing
		if err := s.UpdateItem(ctx, item); err != nil {
			t.Fatalf("UpdateItem failed: %v", err)
		}
	}

	n, err := s.ResetProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetProcessing failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 items reset, got %d", n)
	}

	items, err := s.PendingItems(ctx, "", queue.MaxRetries)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected both items pending again, got %d", len(items))
	}
}
