// Package postgres provides the Postgres-backed document store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ginza777/file-box/internal/document"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the slice of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store reads and mutates document rows. All stage mutations go through
// Claim, which holds a non-blocking row lock for the read-modify-write.
type Store struct {
	db DB
}

// NewStore connects a pool and wraps it in a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewStoreWithDB constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.db.Close()
}

const documentColumns = `id, COALESCE(file_url, ''), COALESCE(file_type, ''), COALESCE(file_size, ''),
	COALESCE(file_size_bytes, 0), COALESCE(page_count, 0), COALESCE(content_type, 'file'),
	COALESCE(file_path, ''), download_status, download_started_at, download_completed_at,
	COALESCE(download_error, ''), COALESCE(parsed_content, ''), is_indexed,
	COALESCE(telegram_status, ''), COALESCE(file_id, ''), sent_to_channel, sent_at,
	delete_from_server, created_at, updated_at`

func scanDocument(row pgx.Row) (document.Document, error) {
	var doc document.Document
	err := row.Scan(
		&doc.ID,
		&doc.FileURL,
		&doc.FileType,
		&doc.FileSize,
		&doc.FileSizeBytes,
		&doc.PageCount,
		&doc.ContentType,
		&doc.FilePath,
		&doc.DownloadStatus,
		&doc.DownloadStartedAt,
		&doc.DownloadCompletedAt,
		&doc.DownloadError,
		&doc.ParsedContent,
		&doc.IsIndexed,
		&doc.TelegramStatus,
		&doc.FileID,
		&doc.SentToChannel,
		&doc.SentAt,
		&doc.DeleteFromServer,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	return doc, err
}

// Get fetches a document by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Create inserts a new document row.
func (s *Store) Create(ctx context.Context, doc document.Document) error {
	query := `
		INSERT INTO documents (
			id, file_url, file_type, file_size, file_size_bytes, page_count,
			content_type, download_status, is_indexed, sent_to_channel,
			delete_from_server, created_at, updated_at
		)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, FALSE, FALSE, FALSE, now(), now())
	`
	status := doc.DownloadStatus
	if status == "" {
		status = document.DownloadPending
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = document.ContentFile
	}
	_, err := s.db.Exec(ctx, query,
		doc.ID, doc.FileURL, doc.FileType, doc.FileSize, doc.FileSizeBytes,
		doc.PageCount, contentType, status,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Claim begins a transaction, takes a non-blocking row lock, runs fn, and
// applies the returned update before committing. A row held by another
// worker yields ErrDocumentLocked without waiting behind the holder; the
// lock covers the whole read-modify-write so two racing retries can never
// both think they own the stage.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, fn func(doc *document.Document) (document.Update, error)) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE SKIP LOCKED`
	doc, err := scanDocument(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return fmt.Errorf("check document existence: %w", checkErr)
		}
		if !exists {
			return document.ErrNotFound
		}
		return document.ErrDocumentLocked
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}

	upd, err := fn(&doc)
	if err != nil {
		return err
	}

	if !upd.IsZero() {
		setSQL, args := buildSet(upd, id)
		if _, err := tx.Exec(ctx, setSQL, args...); err != nil {
			return fmt.Errorf("apply claim update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// Update applies a partial update outside of any claim.
func (s *Store) Update(ctx context.Context, id uuid.UUID, upd document.Update) error {
	if upd.IsZero() {
		return nil
	}
	setSQL, args := buildSet(upd, id)
	tag, err := s.db.Exec(ctx, setSQL, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

// buildSet renders an UPDATE statement covering exactly the non-nil fields.
// Empty strings in nullable text columns are stored as NULL so "cleared"
// and "never set" stay indistinguishable, matching the schema.
func buildSet(upd document.Update, id uuid.UUID) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(fragment string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(fragment, len(args)))
	}

	if upd.FilePath != nil {
		add("file_path = NULLIF($%d, '')", *upd.FilePath)
	}
	if upd.FileSizeBytes != nil {
		add("file_size_bytes = $%d", *upd.FileSizeBytes)
	}
	if upd.DownloadStatus != nil {
		add("download_status = $%d", *upd.DownloadStatus)
	}
	if upd.DownloadStartedAt != nil {
		add("download_started_at = $%d", *upd.DownloadStartedAt)
	}
	if upd.DownloadCompletedAt != nil {
		add("download_completed_at = $%d", *upd.DownloadCompletedAt)
	}
	if upd.DownloadError != nil {
		add("download_error = NULLIF($%d, '')", *upd.DownloadError)
	}
	if upd.ParsedContent != nil {
		add("parsed_content = NULLIF($%d, '')", *upd.ParsedContent)
	}
	if upd.IsIndexed != nil {
		add("is_indexed = $%d", *upd.IsIndexed)
	}
	if upd.TelegramStatus != nil {
		add("telegram_status = NULLIF($%d, '')", string(*upd.TelegramStatus))
	}
	if upd.FileID != nil {
		add("file_id = NULLIF($%d, '')", *upd.FileID)
	}
	if upd.SentToChannel != nil {
		add("sent_to_channel = $%d", *upd.SentToChannel)
	}
	if upd.SentAt != nil {
		add("sent_at = $%d", *upd.SentAt)
	}
	if upd.DeleteFromServer != nil {
		add("delete_from_server = $%d", *upd.DeleteFromServer)
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE documents SET %s WHERE id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)
	return query, args
}

// ProductByDocument resolves the linked product annotation, or nil when the
// document has none.
func (s *Store) ProductByDocument(ctx context.Context, id uuid.UUID) (*document.Product, error) {
	query := `
		SELECT p.id, p.title, p.slug, COALESCE(s.fullname, '')
		FROM products p
		LEFT JOIN sellers s ON s.id = p.seller_id
		WHERE p.document_id = $1
	`
	var p document.Product
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Title, &p.Slug, &p.SellerName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListDownloadedIDs returns every document with a completed download.
func (s *Store) ListDownloadedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM documents WHERE download_status = $1`, document.DownloadDownloaded)
	if err != nil {
		return nil, fmt.Errorf("list downloaded documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return ids, nil
}

// LogSearchQuery records an executed query for analytics.
func (s *Store) LogSearchQuery(ctx context.Context, q document.SearchQueryLog) error {
	query := `
		INSERT INTO search_queries (user_id, query_text, is_deep_search, found_results, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	if _, err := s.db.Exec(ctx, query, q.UserID, q.Query, q.Deep, q.Found); err != nil {
		return fmt.Errorf("log search query: %w", err)
	}
	return nil
}
