// Package jsondoc implements the document storage engine: one JSON file
// per record under <root>/records/<collection>/<id>.json.
//
// Writes are cheap per-record puts (atomic temp file + rename); queries
// are directory scans filtered by the tenant id embedded in each
// envelope. There are no cross-collection transactions, which is the
// trade-off that makes this engine suitable for small data sets and
// constrained environments.
package jsondoc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

func init() {
	store.Register(store.EngineJSONDoc, func(path string, logger *log.Logger) (store.Store, error) {
		return Open(path, logger)
	})
}

// Store is the document engine. It satisfies store.Store.
type Store struct {
	root   string
	logger *log.Logger

	// mu serializes flag writes and queue id allocation; record files
	// are independently atomic and need no lock.
	mu sync.Mutex
}

// Open creates (or opens) a document store rooted at dir.
// Initialization failure is fatal and must propagate.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[jsondoc] ", log.LstdFlags)
	}

	for _, sub := range []string{"records", "queue"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &Store{root: dir, logger: logger}, nil
}

// Close implements store.Store. The document engine holds no open
// handles between operations.
func (s *Store) Close() error {
	return nil
}

// Root returns the directory the store lives in.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) collectionDir(c record.Collection) string {
	return filepath.Join(s.root, "records", string(c))
}

func (s *Store) docPath(c record.Collection, id string) string {
	return filepath.Join(s.collectionDir(c), id+".json")
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, c record.Collection, id string) (*record.Doc, error) {
	data, err := os.ReadFile(s.docPath(c, id))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", c, id, err)
	}

	var doc record.Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s/%s: %w", c, id, err)
	}
	return &doc, nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, c record.Collection, tenantID string) ([]*record.Doc, error) {
	docs, err := s.readCollection(c, false)
	if err != nil {
		return nil, err
	}

	filtered := docs[:0]
	for _, doc := range docs {
		if doc.TenantID == tenantID {
			filtered = append(filtered, doc)
		}
	}
	sortDocs(filtered)
	return filtered, nil
}

// AllDocs implements store.Store.
func (s *Store) AllDocs(ctx context.Context, c record.Collection) ([]*record.Doc, error) {
	docs, err := s.readCollection(c, false)
	if err != nil {
		return nil, err
	}
	sortDocs(docs)
	return docs, nil
}

// readCollection scans a collection directory. Unreadable files are
// skipped with a warning unless strict is set, in which case they abort
// the scan.
func (s *Store) readCollection(c record.Collection, strict bool) ([]*record.Doc, error) {
	entries, err := os.ReadDir(s.collectionDir(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // collection never written, valid
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", c, err)
	}

	var docs []*record.Doc
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.collectionDir(c), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			s.logger.Printf("Warning: skipping unreadable record %s: %v", entry.Name(), err)
			continue
		}

		var doc record.Doc
		if err := json.Unmarshal(data, &doc); err != nil {
			if strict {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			s.logger.Printf("Warning: skipping invalid record %s: %v", entry.Name(), err)
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// Upsert implements store.Store. Each record is an independent atomic
// file write; there is no multi-record transaction.
func (s *Store) Upsert(ctx context.Context, docs ...*record.Doc) error {
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}
		if err := writeJSONAtomic(s.docPath(doc.Collection, doc.ID), doc); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}
	return nil
}

// Delete implements store.Store. Idempotent.
func (s *Store) Delete(ctx context.Context, c record.Collection, id string) error {
	err := os.Remove(s.docPath(c, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", c, id, err)
	}
	return nil
}

// ClearTenant implements store.Store. For each collection the tenant's
// records are identified with a strict scan first; nothing is removed
// until the whole collection has been read cleanly.
func (s *Store) ClearTenant(ctx context.Context, tenantID string) error {
	for _, c := range record.Collections() {
		docs, err := s.readCollection(c, true)
		if err != nil {
			return fmt.Errorf("failed to scan %s before clearing tenant %s: %w", c, tenantID, err)
		}

		for _, doc := range docs {
			if doc.TenantID != tenantID {
				continue
			}
			if err := os.Remove(s.docPath(c, doc.ID)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to clear %s/%s: %w", c, doc.ID, err)
			}
		}
	}
	return nil
}

// MarkRecordSynced implements store.Store.
func (s *Store) MarkRecordSynced(ctx context.Context, c record.Collection, id string, at time.Time) error {
	doc, err := s.Get(ctx, c, id)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	doc.Synced = record.TracksSyncedFlag(c)
	at = at.UTC()
	doc.SyncedAt = &at

	if err := writeJSONAtomic(s.docPath(c, id), doc); err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", c, id, err)
	}
	return nil
}

// GetFlag implements store.Store.
func (s *Store) GetFlag(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.readFlags()
	if err != nil {
		return "", err
	}
	value, ok := flags[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

// SetFlag implements store.Store.
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.readFlags()
	if err != nil {
		return err
	}
	flags[key] = value

	if err := writeJSONAtomic(filepath.Join(s.root, "flags.json"), flags); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", key, err)
	}
	return nil
}

// readFlags loads the flag map. Callers must hold mu.
func (s *Store) readFlags() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "flags.json"))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}

	flags := map[string]string{}
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	return flags, nil
}

// sortDocs orders by updated_at then id for deterministic queries.
func sortDocs(docs []*record.Doc) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.Before(docs[j].UpdatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// writeJSONAtomic marshals v and writes it via temp file + rename so a
// crash mid-write never leaves a truncated record.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Unique temp name per writer so concurrent writes to the same
	// record cannot clobber each other's rename.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
