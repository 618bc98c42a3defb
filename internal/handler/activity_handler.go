package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/threadpulse/internal/activity"
	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/model"
)

// maxActivityBodyBytes はアクティビティ記録リクエストのボディ上限。
const maxActivityBodyBytes = 64 << 10

// ActivityServiceInterface はアクティビティハンドラーが必要とするサービスインターフェース。
type ActivityServiceInterface interface {
	RecordActivity(ctx context.Context, userID, threadID, rawType string, metadata map[string]any) (*model.ActivityRecord, error)
	GetSummary(ctx context.Context, threadID string, days int) (*activity.Summary, error)
	GetEngagement(ctx context.Context, threadID, rangeToken string) (*analytics.EngagementMetrics, error)
	GetHeatmap(ctx context.Context, threadID string, days int) (*analytics.Heatmap, error)
	GetTimeline(ctx context.Context, threadID, granularity string, days int) (*activity.Timeline, error)
	GetThreadAnalytics(ctx context.Context, threadID string) (*model.ThreadAnalytics, error)
	AnalyzeUserBehavior(ctx context.Context, userID, rangeToken string) (*analytics.UserBehavior, error)
	OrganizeThreads(ctx context.Context, userID, rangeToken string) ([]analytics.ThreadGroup, error)
	Export(ctx context.Context, threadID string, days int, format string) (*activity.ExportResult, error)
}

// ActivityHandler はアクティビティ記録と分析のHTTPハンドラー。
type ActivityHandler struct {
	service ActivityServiceInterface
	logger  *slog.Logger
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(service ActivityServiceInterface, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{service: service, logger: logger}
}

// recordActivityRequest はアクティビティ記録リクエストのボディ。
type recordActivityRequest struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// RecordActivity はスレッドへの操作を記録する。
// POST /api/threads/{id}/activities
func (h *ActivityHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewUnauthorizedError())
		return
	}
	threadID, err := threadIDParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	var req recordActivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActivityBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, h.logger, model.NewInvalidRequestError("request body must be a JSON object"))
		return
	}

	rec, err := h.service.RecordActivity(r.Context(), userID, threadID, req.Type, req.Metadata)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, toActivityResponse(rec))
}

// GetSummary はスレッドの集計結果を返す。
// GET /api/threads/{id}/activity/summary?days=
func (h *ActivityHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	threadID, days, ok := h.threadAndDays(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetSummary(r.Context(), threadID, days)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toSummaryResponse(summary))
}

// GetEngagement はエンゲージメント指標を返す。
// GET /api/threads/{id}/activity/engagement?range=
func (h *ActivityHandler) GetEngagement(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadIDParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	m, err := h.service.GetEngagement(r.Context(), threadID, r.URL.Query().Get("range"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toEngagementResponse(threadID, m))
}

// GetHeatmap は曜日×時間帯のヒートマップを返す。
// GET /api/threads/{id}/activity/heatmap?days=
func (h *ActivityHandler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	threadID, days, ok := h.threadAndDays(w, r)
	if !ok {
		return
	}
	hm, err := h.service.GetHeatmap(r.Context(), threadID, days)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toHeatmapResponse(threadID, days, hm))
}

// GetTimeline は粒度ごとの時系列を返す。
// GET /api/threads/{id}/activity/timeline?granularity=&days=
func (h *ActivityHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	threadID, days, ok := h.threadAndDays(w, r)
	if !ok {
		return
	}
	tl, err := h.service.GetTimeline(r.Context(), threadID, r.URL.Query().Get("granularity"), days)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toTimelineResponse(tl))
}

// GetThreadAnalytics はスレッドのカウンタを返す。
// GET /api/threads/{id}/analytics
func (h *ActivityHandler) GetThreadAnalytics(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadIDParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	counters, err := h.service.GetThreadAnalytics(r.Context(), threadID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toThreadAnalyticsResponse(counters))
}

// OrganizeThreads はユーザーが関与するスレッドを健全性ごとに返す。
// GET /api/threads/organization?range=
func (h *ActivityHandler) OrganizeThreads(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewUnauthorizedError())
		return
	}
	tr, err := model.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	groups, err := h.service.OrganizeThreads(r.Context(), userID, string(tr))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toOrganizationResponse(tr, groups))
}

// AnalyzeUserBehavior はリクエストしたユーザー自身の行動傾向を返す。
// GET /api/users/me/behavior?range=
func (h *ActivityHandler) AnalyzeUserBehavior(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewUnauthorizedError())
		return
	}
	tr, err := model.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	b, err := h.service.AnalyzeUserBehavior(r.Context(), userID, string(tr))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toBehaviorResponse(tr, b))
}

// Export はスレッドの記録をCSV・JSON・PDFのいずれかで返す。
// GET /api/threads/{id}/activity/export?format=&days=
func (h *ActivityHandler) Export(w http.ResponseWriter, r *http.Request) {
	threadID, days, ok := h.threadAndDays(w, r)
	if !ok {
		return
	}
	res, err := h.service.Export(r.Context(), threadID, days, r.URL.Query().Get("format"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		h.logger.Warn("エクスポートの書き込みに失敗しました",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()),
		)
	}
}

// threadAndDays はスレッドIDとdaysパラメータを取得する。失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *ActivityHandler) threadAndDays(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	threadID, err := threadIDParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return "", 0, false
	}
	days, err := daysParam(r)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return "", 0, false
	}
	return threadID, days, true
}
