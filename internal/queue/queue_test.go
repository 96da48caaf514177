package queue_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
	"github.com/outposthq/outpost/internal/store/jsondoc"
)

func newTestQueue(t *testing.T) (*queue.Queue, store.Store) {
	t.Helper()

	st, err := jsondoc.Open(t.TempDir(), log.New(os.Stderr, "[test] ", log.LstdFlags))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return queue.New(st, nil), st
}

func TestEnqueueAssignsOrderedIDs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "t1", map[string]string{"id": fmt.Sprintf("s%d", i)})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if id <= last {
			t.Errorf("Expected monotonic ids, got %d after %d", id, last)
		}
		last = id
	}
}

func TestEnqueueRejectsInvalidItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "replace", record.Sales, "t1", nil); err == nil {
		t.Error("Expected error for unknown operation")
	}
	if _, err := q.Enqueue(ctx, queue.OpCreate, "widgets", "t1", nil); err == nil {
		t.Error("Expected error for unknown collection")
	}
	if _, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "", nil); err == nil {
		t.Error("Expected error for missing tenant")
	}
}

func TestRetryCapParksItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "t1", map[string]string{"id": "s1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	cause := errors.New("remote returned 500")
	for attempt := 1; attempt <= queue.MaxRetries; attempt++ {
		pending, err := q.DequeuePending(ctx, "")
		if err != nil {
			t.Fatalf("DequeuePending failed: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("Attempt %d: expected 1 eligible item, got %d", attempt, len(pending))
		}
		if err := q.MarkFailed(ctx, id, cause); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	}

	// At the cap the item is parked and excluded from drains.
	pending, err := q.DequeuePending(ctx, "")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no eligible items after the retry cap, got %d", len(pending))
	}

	items, err := q.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Parked item must stay in the queue, got %d items", len(items))
	}
	if items[0].Status != queue.StatusFailed {
		t.Errorf("Expected status failed, got %s", items[0].Status)
	}
	if items[0].RetryCount != queue.MaxRetries {
		t.Errorf("Expected retry count %d, got %d", queue.MaxRetries, items[0].RetryCount)
	}
	if items[0].LastError == "" {
		t.Error("Expected last error to be recorded")
	}

	// Depth still counts the parked item.
	depth, err := q.Depth(ctx, "t1")
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("Expected depth 1 with a parked item, got %d", depth)
	}
}

func TestRequeueResetsParkedItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.OpUpdate, record.Products, "t1", map[string]string{"id": "p1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for i := 0; i < queue.MaxRetries; i++ {
		if err := q.MarkFailed(ctx, id, errors.New("boom")); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	}

	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	pending, err := q.DequeuePending(ctx, "")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected requeued item to be eligible, got %d items", len(pending))
	}
	if pending[0].RetryCount != 0 || pending[0].LastError != "" {
		t.Errorf("Requeue must reset retries and error: %+v", pending[0])
	}
}

func TestMarkSucceededRemovesItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.OpDelete, record.Customers, "t1", map[string]string{"id": "c1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := q.MarkSucceeded(ctx, id); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	depth, err := q.Depth(ctx, "")
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected empty queue after success, got depth %d", depth)
	}
}

func TestRecoverResetsProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "t1", map[string]string{"id": "s1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	// A processing item is invisible to drains until recovery.
	pending, err := q.DequeuePending(ctx, "")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("Processing items must not be eligible, got %d", len(pending))
	}

	if err := q.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	pending, err = q.DequeuePending(ctx, "")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected recovered item to be pending, got %d items", len(pending))
	}
}

func TestTenantScopedDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "t1", map[string]string{"id": "a"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.OpCreate, record.Sales, "t2", map[string]string{"id": "b"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	forT1, err := q.DequeuePending(ctx, "t1")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(forT1) != 1 || forT1[0].TenantID != "t1" {
		t.Errorf("Expected only t1 items, got %+v", forT1)
	}

	all, err := q.DequeuePending(ctx, "")
	if err != nil {
		t.Fatalf("DequeuePending failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected both tenants' items, got %d", len(all))
	}
}
