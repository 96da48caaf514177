package migrate

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

// Result reports what one migration run did.
type Result struct {
	// Skipped is true when a completed marker made the run a no-op.
	Skipped bool

	// Records counts records copied into the target engine.
	Records int

	// QueueItems counts sync queue items carried over.
	QueueItems int

	// Failures counts collections or queue items that could not be
	// copied. The run continues past failures so one bad record never
	// blocks the rest of the data.
	Failures int

	// PerCollection breaks Records down by collection.
	PerCollection map[record.Collection]int
}

// Config holds migrator configuration.
type Config struct {
	// From is the legacy engine being migrated away from.
	From store.Engine

	// To is the engine records are copied into.
	To store.Engine

	// MarkerPath locates the completion marker. It must not live under
	// either engine's data directory.
	MarkerPath string

	// Logger for migration progress.
	Logger *log.Logger
}

// Migrator copies all records and queued mutations from one open store
// to another, exactly once.
type Migrator struct {
	cfg    Config
	logger *log.Logger
}

// New creates a Migrator.
func New(cfg Config) (*Migrator, error) {
	if cfg.MarkerPath == "" {
		return nil, fmt.Errorf("marker path is required")
	}
	if cfg.From == cfg.To {
		return nil, fmt.Errorf("source and target engine are both %q", cfg.From)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Migrator{cfg: cfg, logger: cfg.Logger}, nil
}

// Run performs the migration. A completed marker short-circuits the run,
// which makes calling Run on every startup safe. Within a run each
// collection is copied independently; a collection that fails to read or
// write is logged and counted, and the remaining collections still copy.
// The marker is written as completed even with partial failures so the
// run never repeats; failed collections are visible in the marker counts
// and the logs.
func (m *Migrator) Run(ctx context.Context, from, to store.Store) (*Result, error) {
	marker, err := ReadMarker(m.cfg.MarkerPath)
	if err != nil {
		return nil, err
	}
	if marker.Completed {
		m.logger.Printf("Migration %s -> %s already completed at %s, skipping",
			marker.From, marker.To, marker.CompletedAt.Format(time.RFC3339))
		return &Result{Skipped: true}, nil
	}

	m.logger.Printf("Migrating data: %s -> %s", m.cfg.From, m.cfg.To)

	result := &Result{PerCollection: make(map[record.Collection]int)}

	for _, c := range record.Collections() {
		n, err := m.copyCollection(ctx, from, to, c)
		result.PerCollection[c] = n
		result.Records += n
		if err != nil {
			m.logger.Printf("WARNING: collection %s migrated partially: %v", c, err)
			result.Failures++
			continue
		}
		m.logger.Printf("Migrated %d %s records", n, c)
	}

	n, failures, err := m.copyQueue(ctx, from, to)
	result.QueueItems = n
	result.Failures += failures
	if err != nil {
		m.logger.Printf("WARNING: sync queue migrated partially: %v", err)
		result.Failures++
	} else {
		m.logger.Printf("Migrated %d queued mutations", n)
	}

	if err := WriteMarker(m.cfg.MarkerPath, &Marker{
		Completed:   true,
		From:        m.cfg.From,
		To:          m.cfg.To,
		CompletedAt: time.Now().UTC(),
		Records:     result.Records,
		QueueItems:  result.QueueItems,
		Failures:    result.Failures,
	}); err != nil {
		return nil, err
	}

	if result.Failures > 0 {
		m.logger.Printf("Migration completed with %d failures; legacy data kept for manual review", result.Failures)
	} else {
		m.logger.Printf("Migration completed: %d records, %d queue items", result.Records, result.QueueItems)
	}
	return result, nil
}

// copyCollection transfers one collection's full snapshot.
func (m *Migrator) copyCollection(ctx context.Context, from, to store.Store, c record.Collection) (int, error) {
	docs, err := from.AllDocs(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s from source: %w", c, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := to.Upsert(ctx, docs...); err != nil {
		return 0, fmt.Errorf("failed to write %s to target: %w", c, err)
	}
	return len(docs), nil
}

// copyQueue carries unfinished queue items into the target store. Items
// keep their payload, status and retry counts; the target assigns fresh
// ids but insertion follows the source order, so creation-order draining
// is preserved.
func (m *Migrator) copyQueue(ctx context.Context, from, to store.Store) (copied, failures int, err error) {
	items, err := from.ListItems(ctx, "")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue from source: %w", err)
	}

	for _, item := range items {
		fresh := *item
		fresh.ID = 0
		if _, err := to.EnqueueItem(ctx, &fresh); err != nil {
			m.logger.Printf("WARNING: failed to migrate queue item %d (%s %s): %v",
				item.ID, item.Op, item.Collection, err)
			failures++
			continue
		}
		copied++
	}
	return copied, failures, nil
}

// CleanupLegacy removes the legacy engine's data directory. This never
// runs automatically; the operator invokes it explicitly after verifying
// the migrated data.
func (m *Migrator) CleanupLegacy(legacyPath string) error {
	marker, err := ReadMarker(m.cfg.MarkerPath)
	if err != nil {
		return err
	}
	if !marker.Completed {
		return fmt.Errorf("refusing to remove legacy data: migration has not completed")
	}

	m.logger.Printf("Removing legacy %s data at %s", m.cfg.From, legacyPath)
	if err := os.RemoveAll(legacyPath); err != nil {
		return fmt.Errorf("failed to remove legacy data: %w", err)
	}
	return nil
}
