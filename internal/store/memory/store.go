// Package memory provides an in-memory document store for local development
// and tests. It mirrors the Postgres store's locking contract: claims are
// skip-on-contention, never blocking.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ginza777/file-box/internal/document"
)

type entry struct {
	// mu guards doc. lock is the stage claim, held for the whole stage
	// callback; reads never wait on it.
	mu   sync.RWMutex
	doc  document.Document
	lock sync.Mutex
}

func (e *entry) snapshot() document.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

func (e *entry) apply(upd document.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	applyUpdate(&e.doc, upd)
	e.doc.UpdatedAt = time.Now().UTC()
}

// Store keeps documents, products, and query logs in process memory.
type Store struct {
	mu       sync.RWMutex
	docs     map[uuid.UUID]*entry
	products map[uuid.UUID]document.Product
	queries  []document.SearchQueryLog
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		docs:     make(map[uuid.UUID]*entry),
		products: make(map[uuid.UUID]document.Product),
	}
}

// Create inserts a new document.
func (s *Store) Create(_ context.Context, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	s.docs[doc.ID] = &entry{doc: doc}
	return nil
}

// Get returns a copy of the document. It reads past any in-flight claim,
// so lookups never stall behind a long-running stage.
func (s *Store) Get(_ context.Context, id uuid.UUID) (document.Document, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return document.Document{}, document.ErrNotFound
	}
	return e.snapshot(), nil
}

// Claim locks the document, runs fn on a working copy, and applies the
// returned update. A document already claimed by another goroutine yields
// ErrDocumentLocked immediately.
func (s *Store) Claim(_ context.Context, id uuid.UUID, fn func(doc *document.Document) (document.Update, error)) error {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return document.ErrNotFound
	}

	if !e.lock.TryLock() {
		return document.ErrDocumentLocked
	}
	defer e.lock.Unlock()

	working := e.snapshot()
	upd, err := fn(&working)
	if err != nil {
		return err
	}
	if !upd.IsZero() {
		e.apply(upd)
	}
	return nil
}

// Update applies a partial update outside of any claim.
func (s *Store) Update(_ context.Context, id uuid.UUID, upd document.Update) error {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return document.ErrNotFound
	}
	e.apply(upd)
	return nil
}

// SetProduct links a product annotation to a document (test/dev helper).
func (s *Store) SetProduct(id uuid.UUID, p document.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = p
}

// ProductByDocument resolves the linked product, or nil when absent.
func (s *Store) ProductByDocument(_ context.Context, id uuid.UUID) (*document.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListDownloadedIDs returns documents with completed downloads.
func (s *Store) ListDownloadedIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, e := range s.docs {
		if e.snapshot().DownloadStatus == document.DownloadDownloaded {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// LogSearchQuery appends a query log entry.
func (s *Store) LogSearchQuery(_ context.Context, q document.SearchQueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.LoggedAt.IsZero() {
		q.LoggedAt = time.Now().UTC()
	}
	s.queries = append(s.queries, q)
	return nil
}

// SearchQueries returns logged queries (test helper).
func (s *Store) SearchQueries() []document.SearchQueryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.SearchQueryLog, len(s.queries))
	copy(out, s.queries)
	return out
}

// LockForTest grabs the per-document lock so tests can simulate contention.
// The returned func releases it.
func (s *Store) LockForTest(id uuid.UUID) func() {
	s.mu.RLock()
	e := s.docs[id]
	s.mu.RUnlock()
	e.lock.Lock()
	return e.lock.Unlock
}

func applyUpdate(doc *document.Document, upd document.Update) {
	if upd.FilePath != nil {
		doc.FilePath = *upd.FilePath
	}
	if upd.FileSizeBytes != nil {
		doc.FileSizeBytes = *upd.FileSizeBytes
	}
	if upd.DownloadStatus != nil {
		doc.DownloadStatus = *upd.DownloadStatus
	}
	if upd.DownloadStartedAt != nil {
		doc.DownloadStartedAt = upd.DownloadStartedAt
	}
	if upd.DownloadCompletedAt != nil {
		doc.DownloadCompletedAt = upd.DownloadCompletedAt
	}
	if upd.DownloadError != nil {
		doc.DownloadError = *upd.DownloadError
	}
	if upd.ParsedContent != nil {
		doc.ParsedContent = *upd.ParsedContent
	}
	if upd.IsIndexed != nil {
		doc.IsIndexed = *upd.IsIndexed
	}
	if upd.TelegramStatus != nil {
		doc.TelegramStatus = *upd.TelegramStatus
	}
	if upd.FileID != nil {
		doc.FileID = *upd.FileID
	}
	if upd.SentToChannel != nil {
		doc.SentToChannel = *upd.SentToChannel
	}
	if upd.SentAt != nil {
		doc.SentAt = upd.SentAt
	}
	if upd.DeleteFromServer != nil {
		doc.DeleteFromServer = *upd.DeleteFromServer
	}
}
