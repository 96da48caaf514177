package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/outposthq/outpost/internal/record"
)

// Queue applies the sync queue policy (ordering, retry cap, crash
// recovery) on top of a Storage implementation.
type Queue struct {
	storage Storage
	logger  *log.Logger
	nowMS   func() int64
}

// New creates a Queue over the given storage.
//
// If logger is nil, a default logger writing to stderr is used.
func New(storage Storage, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		storage: storage,
		logger:  logger,
		nowMS:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Enqueue persists a new mutation and returns its item id.
//
// Enqueue fails loudly when storage is unavailable; callers must not
// swallow the error, or the mutation is silently lost.
func (q *Queue) Enqueue(ctx context.Context, op Op, collection record.Collection, tenantID string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	item := &Item{
		Op:         op,
		Collection: collection,
		TenantID:   tenantID,
		Payload:    data,
		CreatedAt:  q.nowMS(),
		Status:     StatusPending,
	}
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue item: %w", err)
	}

	id, err := q.storage.EnqueueItem(ctx, item)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s for tenant %s: %w", op, collection, tenantID, err)
	}

	q.logger.Printf("Enqueued %s %s id=%d tenant=%s", op, collection, id, tenantID)
	return id, nil
}

// DequeuePending returns the items eligible for delivery, ordered by
// created_at. Items parked in StatusFailed at the retry cap are excluded.
// An empty tenantID spans all tenants.
func (q *Queue) DequeuePending(ctx context.Context, tenantID string) ([]*Item, error) {
	items, err := q.storage.PendingItems(ctx, tenantID, MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending items: %w", err)
	}
	return items, nil
}

// MarkProcessing flags an item as in-flight for the current drain.
func (q *Queue) MarkProcessing(ctx context.Context, id int64) error {
	item, err := q.storage.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", id, err)
	}
	item.Status = StatusProcessing
	if err := q.storage.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to mark item %d processing: %w", id, err)
	}
	return nil
}

// MarkSucceeded removes a delivered item from the queue.
func (q *Queue) MarkSucceeded(ctx context.Context, id int64) error {
	if err := q.storage.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("failed to delete delivered item %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a delivery failure.
//
// The retry count is incremented; once it reaches MaxRetries the item is
// parked in StatusFailed and excluded from automatic drains, otherwise it
// returns to StatusPending for the next attempt.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	item, err := q.storage.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", id, err)
	}

	item.RetryCount++
	if item.RetryCount >= MaxRetries {
		item.Status = StatusFailed
	} else {
		item.Status = StatusPending
	}
	if cause != nil {
		item.LastError = cause.Error()
	}

	if err := q.storage.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to record failure for item %d: %w", id, err)
	}

	q.logger.Printf("Item %d failed (attempt %d/%d): %v", id, item.RetryCount, MaxRetries, cause)
	return nil
}

// Requeue resets a parked item so automatic drains pick it up again.
// This is the operator escape hatch for items that hit the retry cap.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	item, err := q.storage.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", id, err)
	}

	item.RetryCount = 0
	item.Status = StatusPending
	item.LastError = ""

	if err := q.storage.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to requeue item %d: %w", id, err)
	}

	q.logger.Printf("Requeued item %d", id)
	return nil
}

// Recover resets items left in StatusProcessing by a crashed process.
// Must run once at startup before the first drain so no mutation is
// stuck or lost.
func (q *Queue) Recover(ctx context.Context) error {
	n, err := q.storage.ResetProcessing(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover processing items: %w", err)
	}
	if n > 0 {
		q.logger.Printf("Recovered %d item(s) left processing by a previous run", n)
	}
	return nil
}

// Depth returns how many items remain queued for a tenant, failed items
// included. An empty tenantID counts all tenants.
func (q *Queue) Depth(ctx context.Context, tenantID string) (int, error) {
	n, err := q.storage.QueueDepth(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return n, nil
}

// List returns every queued item for inspection, all statuses included.
func (q *Queue) List(ctx context.Context, tenantID string) ([]*Item, error) {
	items, err := q.storage.ListItems(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}
