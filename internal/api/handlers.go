package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
	"github.com/ginza777/file-box/internal/metrics"
)

type createDocumentRequest struct {
	FileURL       string `json:"file_url"`
	FileType      string `json:"file_type"`
	FileSize      string `json:"file_size"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	PageCount     int    `json:"page_count"`
	ContentType   string `json:"content_type"`
	// Process starts the pipeline immediately after creation.
	Process bool `json:"process"`
}

type documentResponse struct {
	ID                  uuid.UUID               `json:"id"`
	FileURL             string                  `json:"file_url"`
	FileType            string                  `json:"file_type"`
	FileSize            string                  `json:"file_size"`
	FileSizeBytes       int64                   `json:"file_size_bytes"`
	PageCount           int                     `json:"page_count"`
	ContentType         document.ContentType    `json:"content_type"`
	FilePath            string                  `json:"file_path,omitempty"`
	DownloadStatus      document.DownloadStatus `json:"download_status"`
	DownloadError       string                  `json:"download_error,omitempty"`
	IsIndexed           bool                    `json:"is_indexed"`
	TelegramStatus      document.TelegramStatus `json:"telegram_status,omitempty"`
	FileID              string                  `json:"file_id,omitempty"`
	SentToChannel       bool                    `json:"sent_to_channel"`
	DeleteFromServer    bool                    `json:"delete_from_server"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
	Product             *productResponse        `json:"product,omitempty"`
}

type productResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	SellerName string `json:"seller_name,omitempty"`
}

func toDocumentResponse(doc document.Document, product *document.Product) documentResponse {
	resp := documentResponse{
		ID:               doc.ID,
		FileURL:          doc.FileURL,
		FileType:         doc.FileType,
		FileSize:         doc.FileSize,
		FileSizeBytes:    doc.FileSizeBytes,
		PageCount:        doc.PageCount,
		ContentType:      doc.ContentType,
		FilePath:         doc.FilePath,
		DownloadStatus:   doc.DownloadStatus,
		DownloadError:    doc.DownloadError,
		IsIndexed:        doc.IsIndexed,
		TelegramStatus:   doc.TelegramStatus,
		FileID:           doc.FileID,
		SentToChannel:    doc.SentToChannel,
		DeleteFromServer: doc.DeleteFromServer,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if product != nil {
		resp.Product = &productResponse{
			ID:         product.ID,
			Title:      product.Title,
			Slug:       product.Slug,
			SellerName: product.SellerName,
		}
	}
	return resp
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.FileURL) == "" {
		writeError(s.logger, w, http.StatusBadRequest, "file_url is required")
		return
	}
	contentType := document.ContentType(req.ContentType)
	if contentType == "" {
		contentType = document.ContentFile
	}
	doc := document.Document{
		ID:             uuid.New(),
		FileURL:        req.FileURL,
		FileType:       req.FileType,
		FileSize:       req.FileSize,
		FileSizeBytes:  req.FileSizeBytes,
		PageCount:      req.PageCount,
		ContentType:    contentType,
		DownloadStatus: document.DownloadPending,
	}
	if err := s.store.Create(r.Context(), doc); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "create document failed")
		return
	}
	if req.Process {
		if err := s.processor.Process(r.Context(), doc.ID); err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "enqueue processing failed")
			return
		}
	}
	writeJSON(s.logger, w, http.StatusCreated, map[string]string{"id": doc.ID.String()})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "document_id"))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := s.store.Get(r.Context(), id)
	if errors.Is(err, document.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "fetch document failed")
		return
	}
	product, err := s.store.ProductByDocument(r.Context(), id)
	if err != nil {
		s.logger.Warn("product lookup failed", zap.String("document_id", id.String()), zap.Error(err))
	}
	writeJSON(s.logger, w, http.StatusOK, toDocumentResponse(doc, product))
}

func (s *Server) processDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "document_id"))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := s.processor.Process(r.Context(), id); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "document not found")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, "enqueue processing failed")
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"id": id.String(), "status": "queued"})
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	count, err := s.processor.ReindexAllDownloaded(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "reindex failed")
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]int{"enqueued": count})
}

type searchResponse struct {
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	Results []documentResponse `json:"results"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(s.logger, w, http.StatusBadRequest, "q is required")
		return
	}

	mode := document.SearchNormal
	switch r.URL.Query().Get("mode") {
	case "", string(document.SearchNormal):
	case string(document.SearchDeep):
		mode = document.SearchDeep
	default:
		writeError(s.logger, w, http.StatusBadRequest, "mode must be normal or deep")
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(s.logger, w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = parsed
	}

	var userID int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		userID = parsed
	}

	result, err := s.searcher.Search(r.Context(), query, mode, page)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		writeError(s.logger, w, http.StatusBadGateway, "search backend unavailable")
		return
	}
	metrics.ObserveSearch(string(mode), result.Total > 0)

	// Query logging is best effort and must not delay the response.
	go s.logSearch(document.SearchQueryLog{
		UserID: userID,
		Query:  query,
		Deep:   mode == document.SearchDeep,
		Found:  result.Total > 0,
	})

	results := make([]documentResponse, 0, len(result.IDs))
	for _, id := range result.IDs {
		doc, err := s.store.Get(r.Context(), id)
		if errors.Is(err, document.ErrNotFound) {
			// Index entries can outlive deleted rows between reindex sweeps.
			continue
		}
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "fetch document failed")
			return
		}
		product, err := s.store.ProductByDocument(r.Context(), id)
		if err != nil {
			s.logger.Warn("product lookup failed", zap.String("document_id", id.String()), zap.Error(err))
		}
		results = append(results, toDocumentResponse(doc, product))
	}

	writeJSON(s.logger, w, http.StatusOK, searchResponse{
		Total:   result.Total,
		Page:    page,
		Results: results,
	})
}

func (s *Server) logSearch(entry document.SearchQueryLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.LogSearchQuery(ctx, entry); err != nil {
		s.logger.Warn("search query log failed", zap.Error(err))
	}
}
