package document

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists documents and their product annotations.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	Create(ctx context.Context, doc Document) error

	// Claim runs fn with the document row locked, skip-on-contention. The
	// update returned by fn is applied in the same transaction. A row held
	// by another worker yields ErrDocumentLocked without blocking.
	Claim(ctx context.Context, id uuid.UUID, fn func(doc *Document) (Update, error)) error

	// Update applies a partial update outside of any claim.
	Update(ctx context.Context, id uuid.UUID, upd Update) error

	// ProductByDocument resolves the linked product, or nil when absent.
	ProductByDocument(ctx context.Context, id uuid.UUID) (*Product, error)

	// ListDownloadedIDs returns every document with a completed download,
	// for the bulk reindex sweep.
	ListDownloadedIDs(ctx context.Context) ([]uuid.UUID, error)

	// LogSearchQuery records a query for analytics.
	LogSearchQuery(ctx context.Context, entry SearchQueryLog) error
}

// Downloader fetches a remote resource into the local media cache and
// returns its media-root-relative path and size in bytes.
type Downloader interface {
	Download(ctx context.Context, fileURL string, id uuid.UUID) (relPath string, size int64, err error)
}

// Extractor produces normalized plain text from an on-disk file.
type Extractor interface {
	Extract(ctx context.Context, absPath string) (string, error)
}

// Uploader places a local file into the durable storage channel and returns
// the stable handle usable for later retrieval.
type Uploader interface {
	SendDocument(ctx context.Context, absPath string, caption string) (fileID string, err error)
}

// Indexer upserts the search-engine projection of a document, keyed by the
// document's own id. Upserts are idempotent by overwrite.
type Indexer interface {
	Index(ctx context.Context, doc IndexedDocument) error
}

// Searcher executes a ranked full-text query with offset pagination.
type Searcher interface {
	Search(ctx context.Context, query string, mode SearchMode, page int) (SearchResult, error)
}

// Queue provides enqueue/dequeue semantics for stage tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// RetryPolicy decides whether and when a failed stage runs again.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt is allowed after the
	// given number of completed attempts.
	ShouldRetry(err error, attempts int) bool
	// Backoff returns the wait before the next attempt.
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
