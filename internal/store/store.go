// Package store persists document metadata and the ingestion task queue in
// SQLite. The documents table owns the ingestion state machine:
//
//	queued -> processing -> completed | failed
//	completed | failed -> queued   (reprocess)
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Errors returned by [DocumentStore] implementations.
var (
	ErrNotFound          = errors.New("store: document not found")
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Status is a document's ingestion state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is one uploaded document and its ingestion outcome.
type Document struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	OwnerID  string `json:"owner_id,omitempty"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Status   Status `json:"status"`
	// Error is the verbatim failure message of the last failed attempt.
	Error      string `json:"error,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	// Report is the serialized cognitive report of the last completed run.
	Report json.RawMessage `json:"report,omitempty"`
	// Raw holds the uploaded bytes until text has been extracted.
	Raw []byte `json:"-"`
	// Content is the extracted text, reused by reprocessing.
	Content   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentStore persists documents. Implementations must be safe for
// concurrent use.
type DocumentStore interface {
	// Create inserts doc with status queued.
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	// List returns a tenant's documents, newest first, without Raw or Content.
	List(ctx context.Context, tenantID string) ([]Document, error)
	// MarkProcessing moves a queued document to processing. A document that
	// is already processing (a redelivered task) is accepted.
	MarkProcessing(ctx context.Context, id string) error
	// SaveContent stores extracted text and drops the raw bytes.
	SaveContent(ctx context.Context, id, content string) error
	MarkCompleted(ctx context.Context, id string, chunkCount int, report json.RawMessage) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	// Requeue moves a completed or failed document back to queued.
	Requeue(ctx context.Context, id string) error
	// Replace swaps in new raw bytes for a document that is not processing,
	// clears its extracted text, and moves it to queued.
	Replace(ctx context.Context, id string, raw []byte, mimeType string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore is a DocumentStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default database path, ~/.cograg/cograg.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".cograg")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "cograg.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent
	// writes; it also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    tenant_id    TEXT    NOT NULL,
    owner_id     TEXT    NOT NULL DEFAULT '',
    filename     TEXT    NOT NULL DEFAULT '',
    mime_type    TEXT    NOT NULL DEFAULT '',
    status       TEXT    NOT NULL CHECK(status IN ('queued','processing','completed','failed')),
    error        TEXT    NOT NULL DEFAULT '',
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    report       TEXT    NOT NULL DEFAULT '',
    raw          BLOB,
    content      TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,  -- Unix milliseconds
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_created
    ON documents (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT    PRIMARY KEY,
    doc_id       TEXT    NOT NULL,
    state        TEXT    NOT NULL CHECK(state IN ('pending','leased','done','failed')),
    attempts     INTEGER NOT NULL DEFAULT 0,
    lease_until  INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT '',
    enqueued_at  INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_state_enqueued
    ON tasks (state, enqueued_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) stamp() int64 { return s.now().UnixMilli() }

// Create implements [DocumentStore].
func (s *SQLiteStore) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" || doc.TenantID == "" {
		return fmt.Errorf("store: create: id and tenant_id are required")
	}
	now := s.stamp()
	const q = `INSERT INTO documents
    (id, tenant_id, owner_id, filename, mime_type, status, raw, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, doc.ID, doc.TenantID, doc.OwnerID, doc.Filename, doc.MimeType,
		string(StatusQueued), doc.Raw, doc.Content, now, now)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", doc.ID, err)
	}
	doc.Status = StatusQueued
	doc.CreatedAt = time.UnixMilli(now)
	doc.UpdatedAt = doc.CreatedAt
	return nil
}

const docColumns = `id, tenant_id, owner_id, filename, mime_type, status, error, chunk_count, report, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, extra ...any) (*Document, error) {
	var (
		d                Document
		status, report   string
		created, updated int64
	)
	dest := append([]any{&d.ID, &d.TenantID, &d.OwnerID, &d.Filename, &d.MimeType, &status,
		&d.Error, &d.ChunkCount, &report, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	if report != "" {
		d.Report = json.RawMessage(report)
	}
	d.CreatedAt = time.UnixMilli(created)
	d.UpdatedAt = time.UnixMilli(updated)
	return &d, nil
}

// Get implements [DocumentStore].
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	var (
		raw     []byte
		content string
	)
	row := s.db.QueryRowContext(ctx, `SELECT `+docColumns+`, raw, content FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row, &raw, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	d.Raw = raw
	d.Content = content
	return d, nil
}

// List implements [DocumentStore].
func (s *SQLiteStore) List(ctx context.Context, tenantID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE tenant_id = ? ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return docs, nil
}

// transition updates status when the current status is one of from.
func (s *SQLiteStore) transition(ctx context.Context, id string, to Status, from []Status, set string, args ...any) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	q := `UPDATE documents SET status = ?, updated_at = ?` + set + ` WHERE id = ? AND status IN (` + placeholders + `)`

	all := append([]any{string(to), s.stamp()}, args...)
	all = append(all, id)
	for _, f := range from {
		all = append(all, string(f))
	}

	res, err := s.db.ExecContext(ctx, q, all...)
	if err != nil {
		return fmt.Errorf("store: set %s to %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, current.Status, to)
}

// MarkProcessing implements [DocumentStore].
func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusProcessing, []Status{StatusQueued, StatusProcessing}, `, error = ''`)
}

// SaveContent implements [DocumentStore].
func (s *SQLiteStore) SaveContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, raw = NULL, updated_at = ? WHERE id = ?`, content, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("store: save content %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// MarkCompleted implements [DocumentStore].
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string, chunkCount int, report json.RawMessage) error {
	return s.transition(ctx, id, StatusCompleted, []Status{StatusProcessing},
		`, error = '', chunk_count = ?, report = ?`, chunkCount, string(report))
}

// MarkFailed implements [DocumentStore].
func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, id, StatusFailed, []Status{StatusQueued, StatusProcessing},
		`, error = ?, chunk_count = 0`, errMsg)
}

// Requeue implements [DocumentStore].
func (s *SQLiteStore) Requeue(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusQueued, []Status{StatusCompleted, StatusFailed}, ``)
}

// Replace implements [DocumentStore].
func (s *SQLiteStore) Replace(ctx context.Context, id string, raw []byte, mimeType string) error {
	return s.transition(ctx, id, StatusQueued, []Status{StatusQueued, StatusCompleted, StatusFailed},
		`, raw = ?, content = '', mime_type = ?, error = ''`, raw, mimeType)
}

// Delete implements [DocumentStore].
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
