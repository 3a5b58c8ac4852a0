package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

// ServiceConfig controls query execution.
type ServiceConfig struct {
	Index    string
	PageSize int
	// MaxDeliverableBytes is the upload size ceiling; documents above it
	// are only shown when already durably stored.
	MaxDeliverableBytes int64
}

// Service executes ranked full-text queries with offset pagination.
type Service struct {
	es     *elasticsearch.Client
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(es *elasticsearch.Client, cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if es == nil {
		return nil, fmt.Errorf("elasticsearch client is required")
	}
	if cfg.Index == "" {
		cfg.Index = "documents"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.MaxDeliverableBytes <= 0 {
		cfg.MaxDeliverableBytes = 50 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{es: es, cfg: cfg, logger: logger}, nil
}

// Search runs the two-clause boosted query: an exact-phrase clause ranked
// high and a fuzzy clause ranked low, OR-combined so exact matches sort
// first without excluding typo-tolerant ones. Results are filtered to
// documents users can actually retrieve. Page numbers are 1-based.
func (s *Service) Search(ctx context.Context, query string, mode document.SearchMode, page int) (document.SearchResult, error) {
	if page < 1 {
		page = 1
	}

	body := s.buildQuery(query, mode, page)
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return document.SearchResult{}, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.cfg.Index),
		s.es.Search.WithBody(&buf),
		s.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return document.SearchResult{}, fmt.Errorf("execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return document.SearchResult{}, fmt.Errorf("execute search: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return document.SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}

	result := document.SearchResult{Total: parsed.Hits.Total.Value}
	for _, hit := range parsed.Hits.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			s.logger.Warn("skipping malformed hit id", zap.String("id", hit.ID))
			continue
		}
		result.IDs = append(result.IDs, id)
	}
	return result, nil
}

func (s *Service) buildQuery(query string, mode document.SearchMode, page int) map[string]any {
	exactFields := []string{"product_title^10", "product_slug^8"}
	fuzzyFields := []string{"product_title^5", "product_slug^4"}
	if mode == document.SearchDeep {
		exactFields = append(exactFields, "content^6")
		fuzzyFields = append(fuzzyFields, "content^3")
	}

	exactClause := map[string]any{
		"multi_match": map[string]any{
			"query":  query,
			"fields": exactFields,
			"type":   "phrase",
			"boost":  5,
		},
	}
	fuzzyClause := map[string]any{
		"multi_match": map[string]any{
			"query":     query,
			"fields":    fuzzyFields,
			"fuzziness": "AUTO",
			"boost":     1,
		},
	}

	// Only surface documents the bot can deliver: small enough to upload,
	// or already sitting in the channel.
	deliverable := map[string]any{
		"bool": map[string]any{
			"should": []any{
				map[string]any{"range": map[string]any{"file_size_bytes": map[string]any{"lte": s.cfg.MaxDeliverableBytes}}},
				map[string]any{"term": map[string]any{"sent_to_channel": true}},
			},
			"minimum_should_match": 1,
		},
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"should":               []any{exactClause, fuzzyClause},
				"minimum_should_match": 1,
				"filter":               []any{deliverable},
			},
		},
		"from":    (page - 1) * s.cfg.PageSize,
		"size":    s.cfg.PageSize,
		"_source": false,
	}
}
