package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

// fakeTransport captures requests and replays canned Elasticsearch responses.
type fakeTransport struct {
	requests []capturedRequest
	status   int
	body     string
}

type capturedRequest struct {
	method string
	path   string
	body   map[string]any
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	captured := capturedRequest{method: req.Method, path: req.URL.Path}
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &captured.body); err != nil {
				return nil, fmt.Errorf("request body is not JSON: %w", err)
			}
		}
	}
	f.requests = append(f.requests, captured)

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func TestIndexer_Index(t *testing.T) {
	t.Parallel()

	rt := &fakeTransport{status: http.StatusCreated, body: `{"result":"created"}`}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	idx, err := NewIndexer(es, "documents", zap.NewNop())
	require.NoError(t, err)

	id := uuid.New()
	err = idx.Index(context.Background(), document.IndexedDocument{
		DocumentID:    id,
		Content:       "linear algebra lecture notes",
		FileSizeBytes: 1024,
		SentToChannel: false,
		HasProduct:    true,
		ProductID:     42,
		ProductTitle:  "Linear Algebra",
		ProductSlug:   "linear-algebra",
	})
	require.NoError(t, err)

	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	require.Equal(t, http.MethodPut, req.method)
	require.Equal(t, "/documents/_doc/"+id.String(), req.path)
	require.Equal(t, "linear algebra lecture notes", req.body["content"])
	require.Equal(t, "Linear Algebra", req.body["product_title"])
	require.Equal(t, "linear-algebra", req.body["product_slug"])
	require.Equal(t, float64(1024), req.body["file_size_bytes"])
}

func TestIndexer_OmitsProductWhenAbsent(t *testing.T) {
	t.Parallel()

	rt := &fakeTransport{status: http.StatusCreated, body: `{"result":"created"}`}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	idx, err := NewIndexer(es, "documents", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, idx.Index(context.Background(), document.IndexedDocument{
		DocumentID: uuid.New(),
		Content:    "body",
	}))

	req := rt.requests[0]
	require.NotContains(t, req.body, "product_title")
	require.NotContains(t, req.body, "product_slug")
}

func TestIndexer_ServiceError(t *testing.T) {
	t.Parallel()

	rt := &fakeTransport{status: http.StatusServiceUnavailable, body: `{"error":"unavailable"}`}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	idx, err := NewIndexer(es, "documents", zap.NewNop())
	require.NoError(t, err)

	err = idx.Index(context.Background(), document.IndexedDocument{DocumentID: uuid.New(), Content: "x"})
	require.Error(t, err)
}

func searchResponse(total int, ids ...uuid.UUID) string {
	hits := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, map[string]any{"_id": id.String()})
	}
	raw, _ := json.Marshal(map[string]any{
		"hits": map[string]any{
			"total": map[string]any{"value": total},
			"hits":  hits,
		},
	})
	return string(raw)
}

func TestService_SearchDeepMode(t *testing.T) {
	t.Parallel()

	idA, idB := uuid.New(), uuid.New()
	rt := &fakeTransport{body: searchResponse(2, idA, idB)}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	svc, err := NewService(es, ServiceConfig{Index: "documents", PageSize: 10, MaxDeliverableBytes: 50 * 1024 * 1024}, zap.NewNop())
	require.NoError(t, err)

	res, err := svc.Search(context.Background(), "kinoni", document.SearchDeep, 1)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, []uuid.UUID{idA, idB}, res.IDs)

	req := rt.requests[0]
	require.Equal(t, "/documents/_search", req.path)

	boolQuery := req.body["query"].(map[string]any)["bool"].(map[string]any)
	should := boolQuery["should"].([]any)
	require.Len(t, should, 2)

	exact := should[0].(map[string]any)["multi_match"].(map[string]any)
	require.Equal(t, "phrase", exact["type"])
	require.Equal(t, float64(5), exact["boost"])
	require.ElementsMatch(t,
		[]any{"product_title^10", "product_slug^8", "content^6"},
		exact["fields"].([]any),
	)

	fuzzy := should[1].(map[string]any)["multi_match"].(map[string]any)
	require.Equal(t, "AUTO", fuzzy["fuzziness"])
	require.Equal(t, float64(1), fuzzy["boost"])
	require.ElementsMatch(t,
		[]any{"product_title^5", "product_slug^4", "content^3"},
		fuzzy["fields"].([]any),
	)

	require.Equal(t, float64(0), req.body["from"])
	require.Equal(t, float64(10), req.body["size"])
}

func TestService_SearchNormalModeSkipsContent(t *testing.T) {
	t.Parallel()

	rt := &fakeTransport{body: searchResponse(0)}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	svc, err := NewService(es, ServiceConfig{}, zap.NewNop())
	require.NoError(t, err)

	res, err := svc.Search(context.Background(), "algebra", document.SearchNormal, 1)
	require.NoError(t, err)
	require.Equal(t, 0, res.Total)
	require.Empty(t, res.IDs)

	boolQuery := rt.requests[0].body["query"].(map[string]any)["bool"].(map[string]any)
	exact := boolQuery["should"].([]any)[0].(map[string]any)["multi_match"].(map[string]any)
	require.ElementsMatch(t, []any{"product_title^10", "product_slug^8"}, exact["fields"].([]any))
}

func TestService_DeliverabilityFilterAndPagination(t *testing.T) {
	t.Parallel()

	rt := &fakeTransport{body: searchResponse(31)}
	es, err := NewClient(ClientConfig{Addresses: []string{"http://search:9200"}, Transport: rt})
	require.NoError(t, err)

	svc, err := NewService(es, ServiceConfig{PageSize: 10, MaxDeliverableBytes: 1000}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), "notes", document.SearchNormal, 3)
	require.NoError(t, err)

	req := rt.requests[0]
	require.Equal(t, float64(20), req.body["from"])

	boolQuery := req.body["query"].(map[string]any)["bool"].(map[string]any)
	filter := boolQuery["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)
	legs := filter["should"].([]any)

	rangeLeg := legs[0].(map[string]any)["range"].(map[string]any)["file_size_bytes"].(map[string]any)
	require.Equal(t, float64(1000), rangeLeg["lte"])

	termLeg := legs[1].(map[string]any)["term"].(map[string]any)
	require.Equal(t, true, termLeg["sent_to_channel"])
}
