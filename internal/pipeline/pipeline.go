// Package pipeline drives documents through the processing stages:
// download, extract, index, upload, reclaim. Each stage claims the document
// and re-checks the persisted state before doing work, so a replayed or
// duplicated task is a no-op rather than a double write. The download and
// upload stages commit an in-flight marker under the first claim, run their
// network call without holding the row lock, and record the result under a
// second claim.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

// Config carries the pipeline settings.
type Config struct {
	// MediaRoot is the directory holding locally cached files. Document
	// paths are stored relative to it.
	MediaRoot string

	// MaxUploadBytes is the channel delivery ceiling. Files above it skip
	// the upload stage and are reclaimed without a durable copy.
	MaxUploadBytes int64
}

// Deps are the collaborators a Pipeline needs.
type Deps struct {
	Store      document.Store
	Downloader document.Downloader
	Extractor  document.Extractor
	Uploader   document.Uploader
	Indexer    document.Indexer
	Queue      document.Queue
	Clock      document.Clock
	Logger     *zap.Logger
}

// Pipeline executes individual stage tasks and chains successors.
type Pipeline struct {
	cfg   Config
	store document.Store
	dl    document.Downloader
	ex    document.Extractor
	up    document.Uploader
	idx   document.Indexer
	queue document.Queue
	clock document.Clock
	log   *zap.Logger
}

// New validates the dependencies and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if deps.Store == nil || deps.Downloader == nil || deps.Extractor == nil ||
		deps.Uploader == nil || deps.Indexer == nil || deps.Queue == nil {
		return nil, fmt.Errorf("all pipeline dependencies are required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:   cfg,
		store: deps.Store,
		dl:    deps.Downloader,
		ex:    deps.Extractor,
		up:    deps.Uploader,
		idx:   deps.Indexer,
		queue: deps.Queue,
		clock: deps.Clock,
		log:   deps.Logger,
	}, nil
}

// Process starts full processing of a document by enqueueing its first
// stage. Later stages are enqueued by the workers as each stage completes.
func (p *Pipeline) Process(ctx context.Context, id uuid.UUID) error {
	if _, err := p.store.Get(ctx, id); err != nil {
		return err
	}
	task := document.Task{DocumentID: id, Stage: document.StageDownload, Chained: true}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue download: %w", err)
	}
	p.log.Info("processing started", zap.String("document_id", id.String()))
	return nil
}

// ReindexAllDownloaded enqueues a standalone index task for every document
// with a completed download and returns how many were enqueued. The tasks
// are not chained: a sweep refreshes the search projection and stops.
func (p *Pipeline) ReindexAllDownloaded(ctx context.Context) (int, error) {
	ids, err := p.store.ListDownloadedIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		task := document.Task{DocumentID: id, Stage: document.StageIndex, Force: true}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			return i, fmt.Errorf("enqueue reindex: %w", err)
		}
	}
	p.log.Info("reindex sweep enqueued", zap.Int("documents", len(ids)))
	return len(ids), nil
}

// Run executes one stage task. On success it returns the follow-up task to
// enqueue, or nil when the task was unchained, the chain is complete, or the
// document was skipped.
func (p *Pipeline) Run(ctx context.Context, task document.Task) (*document.Task, error) {
	cont := true
	var err error
	switch task.Stage {
	case document.StageDownload:
		cont, err = p.runDownload(ctx, task.DocumentID)
	case document.StageExtract:
		err = p.runExtract(ctx, task.DocumentID)
	case document.StageIndex:
		err = p.runIndex(ctx, task.DocumentID, task.Force)
	case document.StageUpload:
		err = p.runUpload(ctx, task.DocumentID)
	case document.StageReclaim:
		err = p.runReclaim(ctx, task.DocumentID)
	default:
		return nil, fmt.Errorf("unknown stage %q", task.Stage)
	}
	if err != nil {
		return nil, err
	}
	if !cont || !task.Chained {
		return nil, nil
	}
	next, ok := task.Stage.Next()
	if !ok {
		return nil, nil
	}
	return &document.Task{DocumentID: task.DocumentID, Stage: next, Chained: true}, nil
}

// runDownload fetches the source file. The document is committed as
// downloading before the fetch, the fetch runs outside the row lock, and a
// second claim records the result; a crashed worker therefore leaves the
// downloading marker behind for the next attempt to find. A document
// without a file_url is not an error: it is marked skipped and the chain
// stops.
func (p *Pipeline) runDownload(ctx context.Context, id uuid.UUID) (bool, error) {
	var already, skipped bool
	var fileURL string
	err := p.store.Claim(ctx, id, func(doc *document.Document) (document.Update, error) {
		if doc.DownloadStatus == document.DownloadDownloaded && doc.FilePath != "" {
			already = true
			return document.Update{}, nil
		}
		if doc.DownloadStatus == document.DownloadSkipped {
			skipped = true
			return document.Update{}, nil
		}
		if doc.FileURL == "" {
			skipped = true
			status := document.DownloadSkipped
			return document.Update{DownloadStatus: &status}, nil
		}
		fileURL = doc.FileURL
		started := p.clock.Now()
		status := document.DownloadDownloading
		return document.Update{DownloadStatus: &status, DownloadStartedAt: &started}, nil
	})
	if err != nil {
		return false, err
	}
	switch {
	case already:
		p.log.Debug("download already complete", zap.String("document_id", id.String()))
		return true, nil
	case skipped:
		p.log.Info("document has no source url, skipped", zap.String("document_id", id.String()))
		return false, nil
	}

	rel, size, err := p.dl.Download(ctx, fileURL, id)
	if err != nil {
		// The downloading marker stays in place for the retry.
		return false, err
	}

	err = p.store.Claim(ctx, id, func(_ *document.Document) (document.Update, error) {
		completed := p.clock.Now()
		status := document.DownloadDownloaded
		return document.Update{
			FilePath:            &rel,
			FileSizeBytes:       &size,
			DownloadStatus:      &status,
			DownloadCompletedAt: &completed,
		}, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pipeline) runExtract(ctx context.Context, id uuid.UUID) error {
	var already bool
	err := p.store.Claim(ctx, id, func(doc *document.Document) (document.Update, error) {
		if doc.ParsedContent != "" {
			already = true
			return document.Update{}, nil
		}
		if doc.DownloadStatus != document.DownloadDownloaded || doc.FilePath == "" {
			return document.Update{}, &document.PreconditionError{
				Stage:  document.StageExtract,
				Reason: "file is not downloaded",
			}
		}
		content, err := p.ex.Extract(ctx, p.absPath(doc.FilePath))
		if err != nil {
			return document.Update{}, err
		}
		return document.Update{ParsedContent: &content}, nil
	})
	if err != nil {
		return err
	}
	if already {
		p.log.Debug("content already extracted", zap.String("document_id", id.String()))
	}
	return nil
}

// runIndex upserts the search projection. An already-indexed document is a
// no-op unless the task forces a refresh, which is how reindex sweeps
// overwrite stale projections.
func (p *Pipeline) runIndex(ctx context.Context, id uuid.UUID, force bool) error {
	var already bool
	err := p.store.Claim(ctx, id, func(doc *document.Document) (document.Update, error) {
		if doc.IsIndexed && !force {
			already = true
			return document.Update{}, nil
		}
		if doc.ParsedContent == "" {
			return document.Update{}, &document.PreconditionError{
				Stage:  document.StageIndex,
				Reason: "no parsed content to index",
			}
		}
		product, err := p.store.ProductByDocument(ctx, doc.ID)
		if err != nil {
			return document.Update{}, fmt.Errorf("resolve product: %w", err)
		}
		idxDoc := document.IndexedDocument{
			DocumentID:    doc.ID,
			Content:       doc.ParsedContent,
			FileSizeBytes: doc.FileSizeBytes,
			SentToChannel: doc.SentToChannel,
		}
		if product != nil {
			idxDoc.ProductID = product.ID
			idxDoc.ProductTitle = product.Title
			idxDoc.ProductSlug = product.Slug
			idxDoc.HasProduct = true
		}
		if err := p.idx.Index(ctx, idxDoc); err != nil {
			return document.Update{}, err
		}
		indexed := true
		return document.Update{IsIndexed: &indexed}, nil
	})
	if err != nil {
		return err
	}
	if already {
		p.log.Debug("already indexed", zap.String("document_id", id.String()))
	}
	return nil
}

// runUpload delivers the local file to the channel. Like download it is
// split into two claims around the network call: the first commits the
// sending marker and captures the file path and caption, the second records
// the delivery.
func (p *Pipeline) runUpload(ctx context.Context, id uuid.UUID) error {
	var already, oversize bool
	var absPath, capt string
	err := p.store.Claim(ctx, id, func(doc *document.Document) (document.Update, error) {
		if doc.SentToChannel && doc.FileID != "" {
			already = true
			return document.Update{}, nil
		}
		if !doc.IsIndexed || doc.FilePath == "" {
			return document.Update{}, &document.PreconditionError{
				Stage:  document.StageUpload,
				Reason: "document is not indexed or has no local file",
			}
		}
		if p.cfg.MaxUploadBytes > 0 && doc.FileSizeBytes > p.cfg.MaxUploadBytes {
			oversize = true
			return document.Update{}, nil
		}
		product, err := p.store.ProductByDocument(ctx, doc.ID)
		if err != nil {
			p.log.Warn("product lookup failed, using bare caption",
				zap.String("document_id", doc.ID.String()), zap.Error(err))
		}
		absPath = p.absPath(doc.FilePath)
		capt = caption(doc, product)
		status := document.TelegramSending
		return document.Update{TelegramStatus: &status}, nil
	})
	if err != nil {
		return err
	}
	switch {
	case already:
		p.log.Debug("already sent to channel", zap.String("document_id", id.String()))
		return nil
	case oversize:
		p.log.Info("file exceeds channel ceiling, upload skipped",
			zap.String("document_id", id.String()),
			zap.Int64("max_upload_bytes", p.cfg.MaxUploadBytes))
		return nil
	}

	fileID, err := p.up.SendDocument(ctx, absPath, capt)
	if err != nil {
		// The sending marker stays in place for the retry.
		return err
	}

	return p.store.Claim(ctx, id, func(_ *document.Document) (document.Update, error) {
		sent := true
		status := document.TelegramSent
		now := p.clock.Now()
		return document.Update{
			FileID:         &fileID,
			SentToChannel:  &sent,
			TelegramStatus: &status,
			SentAt:         &now,
		}, nil
	})
}

// runReclaim deletes the local copy once the document is recoverable: it
// must be indexed, and either delivered to the channel or too large to ever
// be delivered. A missing file on disk is treated as already reclaimed.
func (p *Pipeline) runReclaim(ctx context.Context, id uuid.UUID) error {
	var already bool
	err := p.store.Claim(ctx, id, func(doc *document.Document) (document.Update, error) {
		if doc.FilePath == "" && doc.DeleteFromServer {
			already = true
			return document.Update{}, nil
		}
		oversize := p.cfg.MaxUploadBytes > 0 && doc.FileSizeBytes > p.cfg.MaxUploadBytes
		if !doc.IsIndexed || (!doc.SentToChannel && !oversize) {
			return document.Update{}, &document.PreconditionError{
				Stage:  document.StageReclaim,
				Reason: "document is not durably stored",
			}
		}
		if doc.FilePath != "" {
			if err := os.Remove(p.absPath(doc.FilePath)); err != nil && !os.IsNotExist(err) {
				return document.Update{}, fmt.Errorf("remove local file: %w", err)
			}
		}
		empty := ""
		deleted := true
		return document.Update{FilePath: &empty, DeleteFromServer: &deleted}, nil
	})
	if err != nil {
		return err
	}
	if already {
		p.log.Debug("local file already reclaimed", zap.String("document_id", id.String()))
	} else {
		p.log.Info("local file reclaimed", zap.String("document_id", id.String()))
	}
	return nil
}

func (p *Pipeline) absPath(rel string) string {
	return filepath.Join(p.cfg.MediaRoot, filepath.FromSlash(rel))
}

// caption renders the channel message text. Product metadata wins when
// present; otherwise the source URL has to identify the file.
func caption(doc *document.Document, product *document.Product) string {
	lines := make([]string, 0, 3)
	if product != nil {
		if product.Title != "" {
			lines = append(lines, product.Title)
		}
		if product.SellerName != "" {
			lines = append(lines, product.SellerName)
		}
	}
	if doc.FileURL != "" {
		lines = append(lines, doc.FileURL)
	}
	return strings.Join(lines, "\n")
}
