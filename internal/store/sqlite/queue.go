package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

// EnqueueItem implements queue.Storage. The AUTOINCREMENT id gives the
// queue its monotonic ordering guarantee.
func (s *Store) EnqueueItem(ctx context.Context, item *queue.Item) (int64, error) {
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue item: %w", err)
	}

	query := `
	INSERT INTO sync_queue (operation, collection, payload, tenant_id, created_at, retry_count, status, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.conn.ExecContext(ctx, query,
		string(item.Op),
		string(item.Collection),
		string(item.Payload),
		item.TenantID,
		item.CreatedAt,
		item.RetryCount,
		string(item.Status),
		nullIfEmpty(item.LastError),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	item.ID = id
	return id, nil
}

// GetItem implements queue.Storage.
func (s *Store) GetItem(ctx context.Context, id int64) (*queue.Item, error) {
	query := `
	SELECT id, operation, collection, payload, tenant_id, created_at, retry_count, status, last_error
	FROM sync_queue
	WHERE id = ?
	`

	item, err := scanItem(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %d: %w", id, err)
	}
	return item, nil
}

// UpdateItem implements queue.Storage.
func (s *Store) UpdateItem(ctx context.Context, item *queue.Item) error {
	query := `
	UPDATE sync_queue
	SET retry_count = ?, status = ?, last_error = ?
	WHERE id = ?
	`
	_, err := s.conn.ExecContext(ctx, query,
		item.RetryCount,
		string(item.Status),
		nullIfEmpty(item.LastError),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", item.ID, err)
	}
	return nil
}

// DeleteItem implements queue.Storage. Idempotent.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	return nil
}

// PendingItems implements queue.Storage.
func (s *Store) PendingItems(ctx context.Context, tenantID string, maxRetries int) ([]*queue.Item, error) {
	query := `
	SELECT id, operation, collection, payload, tenant_id, created_at, retry_count, status, last_error
	FROM sync_queue
	WHERE status IN (?, ?) AND retry_count < ?
	`
	args := []any{string(queue.StatusPending), string(queue.StatusFailed), maxRetries}

	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListItems implements queue.Storage.
func (s *Store) ListItems(ctx context.Context, tenantID string) ([]*queue.Item, error) {
	query := `
	SELECT id, operation, collection, payload, tenant_id, created_at, retry_count, status, last_error
	FROM sync_queue
	`
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ResetProcessing implements queue.Storage.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(queue.StatusPending), string(queue.StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset items: %w", err)
	}
	return n, nil
}

// QueueDepth implements queue.Storage.
func (s *Store) QueueDepth(ctx context.Context, tenantID string) (int, error) {
	query := `SELECT COUNT(*) FROM sync_queue`
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}

// scanItem reads one queue row.
func scanItem(row scanner) (*queue.Item, error) {
	var item queue.Item
	var op, collection, status string
	var payload, lastError sql.NullString

	err := row.Scan(&item.ID, &op, &collection, &payload, &item.TenantID,
		&item.CreatedAt, &item.RetryCount, &status, &lastError)
	if err != nil {
		return nil, err
	}

	item.Op = queue.Op(op)
	item.Collection = record.Collection(collection)
	item.Status = queue.Status(status)
	if payload.Valid {
		item.Payload = []byte(payload.String)
	}
	if lastError.Valid {
		item.LastError = lastError.String
	}
	return &item, nil
}

// scanItems reads all queue rows from a query result.
func scanItems(rows *sql.Rows) ([]*queue.Item, error) {
	var items []*queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
