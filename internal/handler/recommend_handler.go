package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/recommend"
)

// RecommendServiceInterface は推薦ハンドラーが必要とするサービスインターフェース。
type RecommendServiceInterface interface {
	Recommend(ctx context.Context, userID string, limit int) ([]recommend.Recommendation, error)
}

// RecommendHandler はスレッド推薦のHTTPハンドラー。
type RecommendHandler struct {
	service RecommendServiceInterface
	logger  *slog.Logger
}

// NewRecommendHandler はRecommendHandlerを生成する。
func NewRecommendHandler(service RecommendServiceInterface, logger *slog.Logger) *RecommendHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecommendHandler{service: service, logger: logger}
}

// Recommend はユーザーへの推薦スレッドを関連度の降順で返す。
// GET /api/recommendations?limit=
func (h *RecommendHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewUnauthorizedError())
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	recs, err := h.service.Recommend(r.Context(), userID, limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toRecommendationsResponse(recs))
}
