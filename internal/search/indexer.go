package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

// Indexer upserts document projections into the search index, keyed by
// document id. Re-indexing overwrites the previous projection.
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewIndexer constructs an Indexer.
func NewIndexer(es *elasticsearch.Client, index string, logger *zap.Logger) (*Indexer, error) {
	if es == nil {
		return nil, fmt.Errorf("elasticsearch client is required")
	}
	if index == "" {
		index = "documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{es: es, index: index, logger: logger}, nil
}

// Index upserts the projection. Service and transport failures are returned
// for pipeline-level retry.
func (i *Indexer) Index(ctx context.Context, doc document.IndexedDocument) error {
	body := map[string]any{
		"document_id":     doc.DocumentID.String(),
		"content":         doc.Content,
		"file_size_bytes": doc.FileSizeBytes,
		"sent_to_channel": doc.SentToChannel,
	}
	if doc.HasProduct {
		body["product_id"] = doc.ProductID
		body["product_title"] = doc.ProductTitle
		body["product_slug"] = doc.ProductSlug
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encode index payload: %w", err)
	}

	res, err := i.es.Index(
		i.index,
		&buf,
		i.es.Index.WithDocumentID(doc.DocumentID.String()),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document: %s", res.String())
	}

	i.logger.Debug("document indexed",
		zap.String("document_id", doc.DocumentID.String()),
		zap.Int("content_chars", len(doc.Content)),
	)
	return nil
}
