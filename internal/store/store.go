// Package store defines the abstract local persistence contract and the
// engine registry used to select a backend once at startup.
//
// Two interchangeable engines satisfy the contract: an embedded
// relational engine (sqlite) and a document engine (jsondoc). Call sites
// never branch on the engine; the choice is made exactly once by Open.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
)

// ErrNotFound is returned when a record or flag does not exist.
var ErrNotFound = errors.New("store: not found")

// Engine names a storage backend implementation.
type Engine string

const (
	// EngineSQLite is the embedded relational engine.
	EngineSQLite Engine = "sqlite"
	// EngineJSONDoc is the document/key-value engine.
	EngineJSONDoc Engine = "jsondoc"
)

// Store is the embedded persistence contract shared by both engines.
//
// All record operations are tenant-filterable. Initialization failure is
// fatal to the caller; there is no fallback to the other engine. The
// queue.Storage methods persist the sync queue inside the same store so
// queued mutations are as durable as the records they mutate.
type Store interface {
	queue.Storage

	// Get fetches one record. Returns ErrNotFound if missing.
	Get(ctx context.Context, c record.Collection, id string) (*record.Doc, error)

	// Query returns all records of a collection for one tenant,
	// ordered by updated_at then id.
	Query(ctx context.Context, c record.Collection, tenantID string) ([]*record.Doc, error)

	// AllDocs returns every record of a collection across tenants.
	// Used by the migration tool to transfer full snapshots.
	AllDocs(ctx context.Context, c record.Collection) ([]*record.Doc, error)

	// Upsert inserts or replaces records. Existing records with the same
	// (collection, id) are overwritten; last write wins.
	Upsert(ctx context.Context, docs ...*record.Doc) error

	// Delete removes one record. Deleting a missing record is not an error.
	Delete(ctx context.Context, c record.Collection, id string) error

	// ClearTenant removes every record belonging to a tenant. The removal
	// is atomic per collection: within one collection either all of the
	// tenant's records are removed or none are.
	ClearTenant(ctx context.Context, tenantID string) error

	// MarkRecordSynced records a confirmed delivery on the local record:
	// the synced flag flips true for flag-tracking collections and
	// synced_at is stamped for the rest. Missing records are ignored.
	MarkRecordSynced(ctx context.Context, c record.Collection, id string, at time.Time) error

	// GetFlag reads a durable key/value flag. Returns ErrNotFound if unset.
	GetFlag(ctx context.Context, key string) (string, error)

	// SetFlag durably writes a key/value flag.
	SetFlag(ctx context.Context, key, value string) error

	// Close releases the engine's resources.
	Close() error
}
