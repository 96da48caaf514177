// Package syncer orchestrates draining the durable sync queue against
// the remote service.
//
// The manager reacts to three triggers: a debounced kick after every
// enqueue, the network monitor's transition to online, and a periodic
// timer gated on being online. A mutual-exclusion flag guarantees a
// single drain at a time; a trigger arriving mid-drain is a no-op.
// Within one drain, items are applied sequentially in creation order so
// per-tenant ordering is preserved.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

// RemoteApplier is the contract the host application's remote client
// must satisfy: apply one mutation to the remote backend. Delivery is
// at-least-once; the remote side is expected to upsert idempotently.
type RemoteApplier interface {
	Apply(ctx context.Context, c record.Collection, op queue.Op, payload json.RawMessage) error
}

// RemoteApplierFunc adapts a function to the RemoteApplier interface.
type RemoteApplierFunc func(ctx context.Context, c record.Collection, op queue.Op, payload json.RawMessage) error

// Apply implements RemoteApplier.
func (f RemoteApplierFunc) Apply(ctx context.Context, c record.Collection, op queue.Op, payload json.RawMessage) error {
	return f(ctx, c, op, payload)
}

// Handler delivers queue items for one collection and performs the
// local bookkeeping after a confirmed delivery. The manager routes each
// item to the handler registered for its collection, so adding or
// removing a collection is a compile-time change, not a string switch
// inside the drain loop.
type Handler interface {
	// Collection names the collection this handler serves.
	Collection() record.Collection

	// Apply delivers one mutation to the remote service.
	Apply(ctx context.Context, op queue.Op, payload json.RawMessage) error

	// OnDelivered runs after a confirmed delivery: it flips the synced
	// flag (or stamps synced_at) on the local record. Failures here are
	// logged, not retried; the remote already has the mutation.
	OnDelivered(ctx context.Context, op queue.Op, payload json.RawMessage) error
}

// remoteHandler is the default Handler: it forwards the payload to a
// RemoteApplier and marks the local record synced on success.
type remoteHandler struct {
	collection record.Collection
	remote     RemoteApplier
	store      store.Store
}

// NewRemoteHandler creates the default handler for one collection.
func NewRemoteHandler(c record.Collection, remote RemoteApplier, st store.Store) Handler {
	return &remoteHandler{collection: c, remote: remote, store: st}
}

// DefaultHandlers builds the full registry: one default handler per
// known collection.
func DefaultHandlers(remote RemoteApplier, st store.Store) map[record.Collection]Handler {
	handlers := make(map[record.Collection]Handler, len(record.Collections()))
	for _, c := range record.Collections() {
		handlers[c] = NewRemoteHandler(c, remote, st)
	}
	return handlers
}

// Collection implements Handler.
func (h *remoteHandler) Collection() record.Collection {
	return h.collection
}

// Apply implements Handler.
func (h *remoteHandler) Apply(ctx context.Context, op queue.Op, payload json.RawMessage) error {
	return h.remote.Apply(ctx, h.collection, op, payload)
}

// OnDelivered implements Handler.
func (h *remoteHandler) OnDelivered(ctx context.Context, op queue.Op, payload json.RawMessage) error {
	if op == queue.OpDelete {
		return nil
	}

	id, err := payloadID(payload)
	if err != nil {
		return fmt.Errorf("cannot mark %s record synced: %w", h.collection, err)
	}
	if err := h.store.MarkRecordSynced(ctx, h.collection, id, time.Now()); err != nil {
		return err
	}
	return nil
}

// payloadID extracts the record id from a mutation payload.
func payloadID(payload json.RawMessage) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("failed to parse payload: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("payload has no id field")
	}
	return body.ID, nil
}
