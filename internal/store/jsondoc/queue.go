package jsondoc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/store"
)

// Queue items live as <root>/queue/<020d>.json; the zero-padded name
// keeps directory listings in id order. A counter file hands out
// monotonic ids across restarts.

func (s *Store) queueDir() string {
	return filepath.Join(s.root, "queue")
}

func (s *Store) itemPath(id int64) string {
	return filepath.Join(s.queueDir(), fmt.Sprintf("%020d.json", id))
}

// nextID allocates the next monotonic queue id. Callers must hold mu.
func (s *Store) nextID() (int64, error) {
	counterPath := filepath.Join(s.queueDir(), "next_id")

	var next int64 = 1
	data, err := os.ReadFile(counterPath)
	if err == nil {
		n, parseErr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("corrupt queue counter: %w", parseErr)
		}
		next = n
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read queue counter: %w", err)
	}

	tmpPath := counterPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strconv.FormatInt(next+1, 10)), 0600); err != nil {
		return 0, fmt.Errorf("failed to write queue counter: %w", err)
	}
	if err := os.Rename(tmpPath, counterPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to commit queue counter: %w", err)
	}

	return next, nil
}

// EnqueueItem implements queue.Storage.
func (s *Store) EnqueueItem(ctx context.Context, item *queue.Item) (int64, error) {
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID()
	if err != nil {
		return 0, err
	}
	item.ID = id

	if err := writeJSONAtomic(s.itemPath(id), item); err != nil {
		return 0, fmt.Errorf("failed to enqueue item %d: %w", id, err)
	}
	return id, nil
}

// GetItem implements queue.Storage.
func (s *Store) GetItem(ctx context.Context, id int64) (*queue.Item, error) {
	data, err := os.ReadFile(s.itemPath(id))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue item %d: %w", id, err)
	}

	var item queue.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to parse queue item %d: %w", id, err)
	}
	return &item, nil
}

// UpdateItem implements queue.Storage.
func (s *Store) UpdateItem(ctx context.Context, item *queue.Item) error {
	if err := writeJSONAtomic(s.itemPath(item.ID), item); err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", item.ID, err)
	}
	return nil
}

// DeleteItem implements queue.Storage. Idempotent.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	err := os.Remove(s.itemPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	return nil
}

// readItems scans every queue item file.
func (s *Store) readItems() ([]*queue.Item, error) {
	entries, err := os.ReadDir(s.queueDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}

	var items []*queue.Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.queueDir(), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var item queue.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		items = append(items, &item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// PendingItems implements queue.Storage.
func (s *Store) PendingItems(ctx context.Context, tenantID string, maxRetries int) ([]*queue.Item, error) {
	items, err := s.readItems()
	if err != nil {
		return nil, err
	}

	var pending []*queue.Item
	for _, item := range items {
		if item.Status != queue.StatusPending && item.Status != queue.StatusFailed {
			continue
		}
		if item.RetryCount >= maxRetries {
			continue
		}
		if tenantID != "" && item.TenantID != tenantID {
			continue
		}
		pending = append(pending, item)
	}
	return pending, nil
}

// ListItems implements queue.Storage.
func (s *Store) ListItems(ctx context.Context, tenantID string) ([]*queue.Item, error) {
	items, err := s.readItems()
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		return items, nil
	}

	var filtered []*queue.Item
	for _, item := range items {
		if item.TenantID == tenantID {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// ResetProcessing implements queue.Storage.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	items, err := s.readItems()
	if err != nil {
		return 0, err
	}

	var reset int64
	for _, item := range items {
		if item.Status != queue.StatusProcessing {
			continue
		}
		item.Status = queue.StatusPending
		if err := s.UpdateItem(ctx, item); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// QueueDepth implements queue.Storage.
func (s *Store) QueueDepth(ctx context.Context, tenantID string) (int, error) {
	items, err := s.readItems()
	if err != nil {
		return 0, err
	}
	if tenantID == "" {
		return len(items), nil
	}

	count := 0
	for _, item := range items {
		if item.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}
