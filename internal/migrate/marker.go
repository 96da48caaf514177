// Package migrate moves all local data from one storage engine to the
// other in a one-shot, idempotent pass.
//
// Completion is recorded in a marker file that lives outside either
// engine's data. If it lived inside the source engine the cleanup step
// would erase it, and inside the target engine a re-initialized target
// would forget the migration ever ran.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/outposthq/outpost/internal/store"
)

// Marker is the durable record of a completed migration.
type Marker struct {
	Completed   bool         `json:"completed"`
	From        store.Engine `json:"from"`
	To          store.Engine `json:"to"`
	CompletedAt time.Time    `json:"completed_at"`
	Records     int          `json:"records_migrated"`
	QueueItems  int          `json:"queue_items_migrated"`
	Failures    int          `json:"failures"`
}

// ReadMarker loads the marker at path. A missing file means no migration
// has completed and returns a zero Marker without error.
func ReadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Marker{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse migration marker %s: %w", path, err)
	}
	return &m, nil
}

// WriteMarker durably writes the marker via a temp file and rename so a
// crash mid-write never leaves a corrupt marker behind.
func WriteMarker(path string, m *Marker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal migration marker: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write migration marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize migration marker: %w", err)
	}
	return nil
}
