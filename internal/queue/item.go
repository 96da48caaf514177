// Package queue implements the durable sync queue: a tenant-scoped,
// ordered log of pending mutations persisted inside the local store.
//
// Items are born when application code enqueues a mutation, mutated only
// by the sync manager while draining, and deleted on confirmed delivery.
// An item that keeps failing is capped at MaxRetries attempts and parked
// in StatusFailed until an operator requeues it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outposthq/outpost/internal/record"
)

// Op is the mutation type carried by a queue item.
type Op string

const (
	// OpCreate inserts a new record on the remote service.
	OpCreate Op = "create"
	// OpUpdate updates an existing remote record by id.
	OpUpdate Op = "update"
	// OpDelete deletes a remote record by id.
	OpDelete Op = "delete"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Status is the durable state of a queue item.
type Status string

const (
	// StatusPending marks an item eligible for the next drain.
	StatusPending Status = "pending"
	// StatusProcessing marks an item currently being delivered.
	// Processing must never survive a restart; Recover resets it.
	StatusProcessing Status = "processing"
	// StatusFailed marks an item that exhausted its retries.
	StatusFailed Status = "failed"
)

// MaxRetries is the hard cap on delivery attempts per item.
const MaxRetries = 3

// Item is one queued mutation.
type Item struct {
	// ID is assigned by the store on enqueue and is monotonic per store.
	ID int64 `json:"id"`

	Op         Op                `json:"operation"`
	Collection record.Collection `json:"collection"`
	TenantID   string            `json:"tenant_id"`

	// Payload is the mutation body forwarded verbatim to the remote service.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is epoch milliseconds; drains apply items in this order.
	CreatedAt int64 `json:"created_at"`

	RetryCount int    `json:"retry_count"`
	Status     Status `json:"status"`
	LastError  string `json:"last_error,omitempty"`
}

// Validate checks the item invariants before it is persisted.
func (i *Item) Validate() error {
	if !i.Op.Valid() {
		return fmt.Errorf("invalid operation %q", i.Op)
	}
	if !record.Known(i.Collection) {
		return fmt.Errorf("unknown collection %q", i.Collection)
	}
	if i.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if i.CreatedAt <= 0 {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Storage is the persistence contract the queue needs from a store.
// Both storage engines satisfy it, which keeps the queue durable across
// an engine switch.
type Storage interface {
	// EnqueueItem persists a new item and returns its assigned id.
	// IDs are monotonically increasing within one store.
	EnqueueItem(ctx context.Context, item *Item) (int64, error)

	// GetItem fetches one item by id.
	GetItem(ctx context.Context, id int64) (*Item, error)

	// UpdateItem persists status, retry_count and last_error changes.
	UpdateItem(ctx context.Context, item *Item) error

	// DeleteItem removes a delivered item. Deleting a missing item is not
	// an error.
	DeleteItem(ctx context.Context, id int64) error

	// PendingItems returns items with status pending or failed and
	// retry_count below maxRetries, ordered by created_at then id.
	// An empty tenantID returns items for every tenant.
	PendingItems(ctx context.Context, tenantID string, maxRetries int) ([]*Item, error)

	// ListItems returns every queued item regardless of status, ordered
	// by created_at then id. An empty tenantID lists all tenants.
	ListItems(ctx context.Context, tenantID string) ([]*Item, error)

	// ResetProcessing flips every processing item back to pending and
	// returns how many were reset. Called once at startup.
	ResetProcessing(ctx context.Context) (int64, error)

	// QueueDepth counts items still in the queue for a tenant
	// (all statuses). An empty tenantID counts all tenants.
	QueueDepth(ctx context.Context, tenantID string) (int, error)
}
