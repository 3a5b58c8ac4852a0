package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
	storemem "github.com/ginza777/file-box/internal/store/memory"
)

type fakeSearcher struct {
	mu       sync.Mutex
	gotQuery string
	gotMode  document.SearchMode
	gotPage  int
	result   document.SearchResult
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, query string, mode document.SearchMode, page int) (document.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQuery = query
	f.gotMode = mode
	f.gotPage = page
	return f.result, f.err
}

type fakeProcessor struct {
	mu           sync.Mutex
	processed    []uuid.UUID
	processErr   error
	reindexCount int
	reindexErr   error
}

func (f *fakeProcessor) Process(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return f.processErr
}

func (f *fakeProcessor) ReindexAllDownloaded(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reindexCount, f.reindexErr
}

type testServer struct {
	server    *Server
	store     *storemem.Store
	searcher  *fakeSearcher
	processor *fakeProcessor
}

func newTestServer() *testServer {
	ts := &testServer{
		store:     storemem.NewStore(),
		searcher:  &fakeSearcher{},
		processor: &fakeProcessor{},
	}
	ts.server = NewServer(ts.store, ts.searcher, ts.processor, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateDocumentStartsProcessing(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	rec := ts.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"file_url":        "https://files.example.com/report.pdf",
		"file_type":       "pdf",
		"file_size_bytes": 2048,
		"process":         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp["id"])
	require.NoError(t, err)

	doc, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/report.pdf", doc.FileURL)
	require.Equal(t, document.DownloadPending, doc.DownloadStatus)
	require.Equal(t, []uuid.UUID{id}, ts.processor.processed)
}

func TestCreateDocumentRequiresFileURL(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	rec := ts.do(t, http.MethodPost, "/v1/documents", map[string]any{"file_type": "pdf"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, ts.processor.processed)
}

func TestGetDocumentIncludesProduct(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	id := uuid.New()
	require.NoError(t, ts.store.Create(context.Background(), document.Document{
		ID:             id,
		FileURL:        "https://files.example.com/a.pdf",
		DownloadStatus: document.DownloadDownloaded,
		IsIndexed:      true,
	}))
	ts.store.SetProduct(id, document.Product{ID: 7, Title: "Annual Report", Slug: "annual-report"})

	rec := ts.do(t, http.MethodGet, "/v1/documents/"+id.String()+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.ID)
	require.True(t, resp.IsIndexed)
	require.NotNil(t, resp.Product)
	require.Equal(t, "Annual Report", resp.Product.Title)
}

func TestGetDocumentErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/v1/documents/not-a-uuid/", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/documents/"+uuid.NewString()+"/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessDocumentNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	ts.processor.processErr = document.ErrNotFound

	rec := ts.do(t, http.MethodPost, "/v1/documents/"+uuid.NewString()+"/process", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReindexReportsCount(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	ts.processor.reindexCount = 12

	rec := ts.do(t, http.MethodPost, "/v1/reindex", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 12, resp["enqueued"])
}

func TestSearchResolvesDocuments(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	id := uuid.New()
	require.NoError(t, ts.store.Create(context.Background(), document.Document{
		ID:             id,
		FileURL:        "https://files.example.com/a.pdf",
		DownloadStatus: document.DownloadDownloaded,
		IsIndexed:      true,
		SentToChannel:  true,
		FileID:         "tg-file-id-1",
	}))
	ts.searcher.result = document.SearchResult{Total: 41, IDs: []uuid.UUID{id, uuid.New()}}

	rec := ts.do(t, http.MethodGet, "/v1/search?q=annual+report&mode=deep&page=3&user_id=99", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "annual report", ts.searcher.gotQuery)
	require.Equal(t, document.SearchDeep, ts.searcher.gotMode)
	require.Equal(t, 3, ts.searcher.gotPage)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 41, resp.Total)
	require.Equal(t, 3, resp.Page)
	// The second hit has no document row and is dropped.
	require.Len(t, resp.Results, 1)
	require.Equal(t, id, resp.Results[0].ID)
	require.Equal(t, "tg-file-id-1", resp.Results[0].FileID)

	require.Eventually(t, func() bool {
		logs := ts.store.SearchQueries()
		return len(logs) == 1 &&
			logs[0].Query == "annual report" &&
			logs[0].Deep &&
			logs[0].Found &&
			logs[0].UserID == 99
	}, time.Second, 10*time.Millisecond)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/v1/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/search?q=x&mode=fuzzy", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/search?q=x&page=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchBackendFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	ts.searcher.err = context.DeadlineExceeded

	rec := ts.do(t, http.MethodGet, "/v1/search?q=x", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer()
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
