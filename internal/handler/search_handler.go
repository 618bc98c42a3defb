package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/search"
)

const maxSavedSearchBodyBytes = 8 << 10

// SearchServiceInterface は検索ハンドラーが必要とするサービスインターフェース。
type SearchServiceInterface interface {
	SearchThreads(ctx context.Context, userID, query string, limit int) (*search.Result, error)
	ListHistory(ctx context.Context, userID string) ([]model.SearchHistoryEntry, error)
	ClearHistory(ctx context.Context, userID string) error
	CreateSavedSearch(ctx context.Context, userID, name, query string) (*model.SavedSearch, error)
	ListSavedSearches(ctx context.Context, userID string) ([]model.SavedSearch, error)
	DeleteSavedSearch(ctx context.Context, userID, id string) error
	PopularQueries(ctx context.Context, days, limit int) ([]search.PopularQuery, error)
}

// SearchHandler はスレッド検索・検索履歴・保存検索のHTTPハンドラー。
type SearchHandler struct {
	service SearchServiceInterface
	logger  *slog.Logger
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(service SearchServiceInterface, logger *slog.Logger) *SearchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{service: service, logger: logger}
}

// savedSearchRequest は保存検索作成リクエストのボディ。
type savedSearchRequest struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// SearchThreads はタイトルでスレッドを検索する。
// GET /api/search/threads?q=&limit=
func (h *SearchHandler) SearchThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	res, err := h.service.SearchThreads(r.Context(), userID, r.URL.Query().Get("q"), limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toSearchResponse(res))
}

// ListHistory は検索履歴を返す。
// GET /api/search/history
func (h *SearchHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListHistory(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toHistoryResponse(entries))
}

// ClearHistory は検索履歴をすべて削除する。
// DELETE /api/search/history
func (h *SearchHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearHistory(r.Context(), userID); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSavedSearch は検索条件を保存する。
// POST /api/search/saved
func (h *SearchHandler) CreateSavedSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req savedSearchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSavedSearchBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, h.logger, model.NewInvalidRequestError("request body must be a JSON object"))
		return
	}
	saved, err := h.service.CreateSavedSearch(r.Context(), userID, req.Name, req.Query)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, toSavedSearchResponse(saved))
}

// ListSavedSearches は保存検索の一覧を返す。
// GET /api/search/saved
func (h *SearchHandler) ListSavedSearches(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	searches, err := h.service.ListSavedSearches(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toSavedSearchesResponse(searches))
}

// DeleteSavedSearch は保存検索を削除する。
// DELETE /api/search/saved/{id}
func (h *SearchHandler) DeleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := savedSearchIDParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteSavedSearch(r.Context(), userID, id); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PopularQueries は人気の検索クエリを返す。
// GET /api/search/popular?days=&limit=
func (h *SearchHandler) PopularQueries(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	queries, err := h.service.PopularQueries(r.Context(), days, limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPopularResponse(queries))
}

func (h *SearchHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
