// Package sqlite implements the relational storage engine on embedded
// SQLite (ncruces/go-sqlite3, WASM build, no cgo).
//
// The database runs with WAL mode for concurrent reads during writes.
// Records are stored in a single table keyed by (collection, id) with an
// indexed tenant_id column; the sync queue and the durable flag store
// live in the same database file so a queued mutation is exactly as
// durable as the record it mutates.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"
)

func init() {
	store.Register(store.EngineSQLite, func(path string, logger *log.Logger) (store.Store, error) {
		return Open(path, logger)
	})
}

// Store is the relational engine. It satisfies store.Store.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates (or opens) the database at path and initializes the schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
// Initialization failure is fatal and must propagate; there is no
// fallback to the document engine.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sqlite] ", log.LstdFlags)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	// WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// initSchema creates tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT,
		data TEXT,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS flags (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		collection TEXT NOT NULL,
		payload TEXT,
		tenant_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT
	);

	-- Indexes for tenant-scoped queries and ordered drains
	CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(collection, tenant_id);
	CREATE INDEX IF NOT EXISTS idx_queue_tenant_created ON sync_queue(tenant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, c record.Collection, id string) (*record.Doc, error) {
	query := `
	SELECT collection, id, tenant_id, updated_at, synced, synced_at, data
	FROM records
	WHERE collection = ? AND id = ?
	`

	doc, err := scanDoc(s.conn.QueryRowContext(ctx, query, string(c), id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", c, id, err)
	}
	return doc, nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, c record.Collection, tenantID string) ([]*record.Doc, error) {
	query := `
	SELECT collection, id, tenant_id, updated_at, synced, synced_at, data
	FROM records
	WHERE collection = ? AND tenant_id = ?
	ORDER BY updated_at ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(c), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for tenant %s: %w", c, tenantID, err)
	}
	defer rows.Close()

	return scanDocs(rows)
}

// AllDocs implements store.Store.
func (s *Store) AllDocs(ctx context.Context, c record.Collection) ([]*record.Doc, error) {
	query := `
	SELECT collection, id, tenant_id, updated_at, synced, synced_at, data
	FROM records
	WHERE collection = ?
	ORDER BY updated_at ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(c))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", c, err)
	}
	defer rows.Close()

	return scanDocs(rows)
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, docs ...*record.Doc) error {
	if len(docs) == 0 {
		return nil
	}

	query := `
	INSERT INTO records (collection, id, tenant_id, updated_at, synced, synced_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		tenant_id = excluded.tenant_id,
		updated_at = excluded.updated_at,
		synced = excluded.synced,
		synced_at = excluded.synced_at,
		data = excluded.data
	`

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}
		_, err := tx.ExecContext(ctx, query,
			string(doc.Collection),
			doc.ID,
			doc.TenantID,
			doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
			boolToInt(doc.Synced),
			timeToNullString(doc.SyncedAt),
			string(doc.Data),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// Delete implements store.Store. Idempotent.
func (s *Store) Delete(ctx context.Context, c record.Collection, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, string(c), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, id, err)
	}
	return nil
}

// ClearTenant implements store.Store. Each collection is cleared in its
// own transaction so a failure never leaves a collection half-cleared.
func (s *Store) ClearTenant(ctx context.Context, tenantID string) error {
	for _, c := range record.Collections() {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND tenant_id = ?`, string(c), tenantID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to clear %s for tenant %s: %w", c, tenantID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit clear of %s: %w", c, err)
		}
	}
	return nil
}

// MarkRecordSynced implements store.Store. The synced flag only flips
// for collections that track it; everything gets synced_at stamped.
func (s *Store) MarkRecordSynced(ctx context.Context, c record.Collection, id string, at time.Time) error {
	query := `UPDATE records SET synced = ?, synced_at = ? WHERE collection = ? AND id = ?`
	_, err := s.conn.ExecContext(ctx, query,
		boolToInt(record.TracksSyncedFlag(c)), at.UTC().Format(time.RFC3339Nano), string(c), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", c, id, err)
	}
	return nil
}

// GetFlag implements store.Store.
func (s *Store) GetFlag(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get flag %s: %w", key, err)
	}
	return value, nil
}

// SetFlag implements store.Store.
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO flags (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", key, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanDoc.
type scanner interface {
	Scan(dest ...any) error
}

// scanDoc reads one record row into a Doc.
func scanDoc(row scanner) (*record.Doc, error) {
	var doc record.Doc
	var collection, updatedAt string
	var synced int
	var syncedAt sql.NullString
	var data sql.NullString

	err := row.Scan(&collection, &doc.ID, &doc.TenantID, &updatedAt, &synced, &syncedAt, &data)
	if err != nil {
		return nil, err
	}

	doc.Collection = record.Collection(collection)
	doc.Synced = synced != 0
	doc.SyncedAt = nullStringToTime(syncedAt)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = t
	}
	if data.Valid {
		doc.Data = []byte(data.String)
	}

	return &doc, nil
}

// scanDocs reads all record rows from a query result.
func scanDocs(rows *sql.Rows) ([]*record.Doc, error) {
	var docs []*record.Doc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return docs, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
