// Package document defines core types shared across subsystems.
package document

import (
	"time"

	"github.com/google/uuid"
)

// DownloadStatus tracks the download sub-state of a document.
type DownloadStatus string

// Download status values persisted in the document store.
const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadDownloaded  DownloadStatus = "downloaded"
	DownloadFailed      DownloadStatus = "failed"
	DownloadSkipped     DownloadStatus = "skipped"
)

// TelegramStatus tracks delivery to the durable storage channel.
type TelegramStatus string

// Telegram status values. The zero value means the upload has not started.
const (
	TelegramUnset   TelegramStatus = ""
	TelegramSending TelegramStatus = "sending"
	TelegramSent    TelegramStatus = "sent"
)

// ContentType classifies the payload of a document.
type ContentType string

// Known content types.
const (
	ContentFile         ContentType = "file"
	ContentVideo        ContentType = "video"
	ContentAudio        ContentType = "audio"
	ContentPresentation ContentType = "presentation"
)

// Stage identifies one unit of the processing pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageIndex    Stage = "index"
	StageUpload   Stage = "upload"
	StageReclaim  Stage = "reclaim"
)

// StageOrder is the canonical stage sequence. A later stage must never run
// before its predecessor has completed; each stage asserts this itself.
var StageOrder = []Stage{StageDownload, StageExtract, StageIndex, StageUpload, StageReclaim}

// Next returns the stage following s, or false when s is terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Document is the persisted entity whose status fields drive every stage's
// idempotency check. It is mutated exclusively by pipeline stages, one stage
// at a time, under a per-document row lock.
type Document struct {
	ID uuid.UUID

	FileURL       string
	FileType      string
	FileSize      string
	FileSizeBytes int64
	PageCount     int
	ContentType   ContentType

	// FilePath is relative to the media root. Empty when the file is not
	// cached locally or has been reclaimed.
	FilePath string

	DownloadStatus      DownloadStatus
	DownloadStartedAt   *time.Time
	DownloadCompletedAt *time.Time
	// DownloadError holds the final failure reason of whichever stage
	// exhausted its retries, not only download failures.
	DownloadError string

	ParsedContent string
	IsIndexed     bool

	TelegramStatus TelegramStatus
	FileID         string
	SentToChannel  bool
	SentAt         *time.Time

	DeleteFromServer bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is the optional marketplace annotation linked 1:1 to a document.
// The pipeline treats it as read-only; absence is a first-class branch.
type Product struct {
	ID         int64
	Title      string
	Slug       string
	SellerName string
}

// Update is a partial document update. Nil fields are left untouched.
type Update struct {
	FilePath            *string
	FileSizeBytes       *int64
	DownloadStatus      *DownloadStatus
	DownloadStartedAt   *time.Time
	DownloadCompletedAt *time.Time
	DownloadError       *string
	ParsedContent       *string
	IsIndexed           *bool
	TelegramStatus      *TelegramStatus
	FileID              *string
	SentToChannel       *bool
	SentAt              *time.Time
	DeleteFromServer    *bool
}

// IsZero reports whether the update would write nothing.
func (u Update) IsZero() bool {
	return u == Update{}
}

// Task is one pipeline stage invocation for one document, ready to run.
type Task struct {
	DocumentID uuid.UUID
	Stage      Stage
	// Attempt counts prior executions of this task, starting at zero.
	Attempt int
	// Chained tasks enqueue the next stage on success. Bulk maintenance
	// paths (reindex sweeps) run a single stage and stop.
	Chained bool
	// Force re-runs a stage whose completion marker is already set.
	// Reindex sweeps set it so stale search projections get overwritten.
	Force bool
}

// SearchMode selects which fields a query matches against.
type SearchMode string

// Search modes. Deep additionally matches extracted body content.
const (
	SearchNormal SearchMode = "normal"
	SearchDeep   SearchMode = "deep"
)

// IndexedDocument is the search-engine projection of a document and its
// optional product annotation.
type IndexedDocument struct {
	DocumentID    uuid.UUID
	Content       string
	FileSizeBytes int64
	SentToChannel bool

	ProductID    int64
	ProductTitle string
	ProductSlug  string
	HasProduct   bool
}

// SearchResult is one page of ranked matches plus the overall count.
type SearchResult struct {
	Total int
	IDs   []uuid.UUID
}

// SearchQueryLog records one executed user query for analytics.
type SearchQueryLog struct {
	UserID   int64
	Query    string
	Deep     bool
	Found    bool
	LoggedAt time.Time
}
