package jsondoc

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
	"github.com/outposthq/outpost/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir(), log.New(os.Stderr, "[test] ", log.LstdFlags))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return s
}

func TestEngineContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestQuerySkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := record.NewDoc(record.Products, "good", "t1", time.Now().UTC(), map[string]string{"name": "Pen"})
	if err != nil {
		t.Fatalf("Failed to build doc: %v", err)
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// A truncated write from a crashed process must not break reads.
	corrupt := filepath.Join(s.Root(), "records", "products", "bad.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to plant corrupt file: %v", err)
	}

	docs, err := s.Query(ctx, record.Products, "t1")
	if err != nil {
		t.Fatalf("Query should skip corrupt files, got %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "good" {
		t.Errorf("Expected only the good record, got %+v", docs)
	}
}

func TestClearTenantAbortsOnCorruptFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := record.NewDoc(record.Products, "p1", "t1", time.Now().UTC(), map[string]string{"name": "Pen"})
	if err != nil {
		t.Fatalf("Failed to build doc: %v", err)
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	corrupt := filepath.Join(s.Root(), "records", "products", "bad.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to plant corrupt file: %v", err)
	}

	// The strict pre-scan must fail before anything is removed.
	if err := s.ClearTenant(ctx, "t1"); err == nil {
		t.Fatal("Expected ClearTenant to abort on a corrupt file")
	}
	if _, err := s.Get(ctx, record.Products, "p1"); err != nil {
		t.Errorf("No record should be removed after an aborted clear: %v", err)
	}
}

func TestConcurrentUpsertsSameRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			doc, err := record.NewDoc(record.Products, "p1", "t1", time.Now().UTC(), map[string]int{"rev": n})
			if err != nil {
				errs <- err
				return
			}
			errs <- s.Upsert(ctx, doc)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent upsert failed: %v", err)
		}
	}
	if _, err := s.Get(ctx, record.Products, "p1"); err != nil {
		t.Fatalf("Get after concurrent upserts failed: %v", err)
	}

	// Every writer's temp file must be gone, renamed or cleaned up.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "records", "products"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			t.Errorf("Leftover temp file: %s", entry.Name())
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	ctx := context.Background()
	doc, err := record.NewDoc(record.Students, "s1", "t1", time.Now().UTC(), map[string]string{"first_name": "Amina"})
	if err != nil {
		t.Fatalf("Failed to build doc: %v", err)
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	if _, err := reopened.Get(ctx, record.Students, "s1"); err != nil {
		t.Errorf("Record lost across reopen: %v", err)
	}
}

func TestQueueIDsMonotonicAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	first := enqueueOne(t, s, 1000)
	_ = s.Close()

	reopened, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	second := enqueueOne(t, reopened, 2000)

	if second <= first {
		t.Errorf("Queue ids must stay monotonic across reopen: %d then %d", first, second)
	}

	items, err := reopened.ListItems(ctx, "")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected both items to survive reopen, got %d", len(items))
	}
}

func enqueueOne(t *testing.T, s *Store, createdAt int64) int64 {
	t.Helper()
	id, err := s.EnqueueItem(context.Background(), &queue.Item{
		Op:         queue.OpCreate,
		Collection: record.Sales,
		TenantID:   "t1",
		Payload:    []byte(`{"id":"s1"}`),
		CreatedAt:  createdAt,
		Status:     queue.StatusPending,
	})
	if err != nil {
		t.Fatalf("EnqueueItem failed: %v", err)
	}
	return id
}
