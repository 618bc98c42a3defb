package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/threadpulse/internal/activity"
	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/recommend"
	"github.com/hitoshi/threadpulse/internal/search"
)

const (
	testUserID        = "7f1b2c3d-0000-4000-8000-000000000001"
	testThreadID      = "2b9e1a44-5c6d-4e7f-8a9b-0c1d2e3f4a5b"
	testSavedSearchID = "5d3c2b1a-9e8f-4a7b-8c6d-1e2f3a4b5c6d"
)

// --- モック定義 ---

// mockActivityService はActivityServiceInterfaceのモック実装。
type mockActivityService struct {
	recordActivityFn      func(ctx context.Context, userID, threadID, rawType string, metadata map[string]any) (*model.ActivityRecord, error)
	getSummaryFn          func(ctx context.Context, threadID string, days int) (*activity.Summary, error)
	getEngagementFn       func(ctx context.Context, threadID, rangeToken string) (*analytics.EngagementMetrics, error)
	getHeatmapFn          func(ctx context.Context, threadID string, days int) (*analytics.Heatmap, error)
	getTimelineFn         func(ctx context.Context, threadID, granularity string, days int) (*activity.Timeline, error)
	getThreadAnalyticsFn  func(ctx context.Context, threadID string) (*model.ThreadAnalytics, error)
	analyzeUserBehaviorFn func(ctx context.Context, userID, rangeToken string) (*analytics.UserBehavior, error)
	organizeThreadsFn     func(ctx context.Context, userID, rangeToken string) ([]analytics.ThreadGroup, error)
	exportFn              func(ctx context.Context, threadID string, days int, format string) (*activity.ExportResult, error)
}

func (m *mockActivityService) RecordActivity(ctx context.Context, userID, threadID, rawType string, metadata map[string]any) (*model.ActivityRecord, error) {
	if m.recordActivityFn != nil {
		return m.recordActivityFn(ctx, userID, threadID, rawType, metadata)
	}
	return &model.ActivityRecord{ThreadID: threadID, UserID: userID, Type: model.ActivityType(rawType)}, nil
}

func (m *mockActivityService) GetSummary(ctx context.Context, threadID string, days int) (*activity.Summary, error) {
	if m.getSummaryFn != nil {
		return m.getSummaryFn(ctx, threadID, days)
	}
	return &activity.Summary{ThreadID: threadID, Days: days}, nil
}

func (m *mockActivityService) GetEngagement(ctx context.Context, threadID, rangeToken string) (*analytics.EngagementMetrics, error) {
	if m.getEngagementFn != nil {
		return m.getEngagementFn(ctx, threadID, rangeToken)
	}
	return &analytics.EngagementMetrics{}, nil
}

func (m *mockActivityService) GetHeatmap(ctx context.Context, threadID string, days int) (*analytics.Heatmap, error) {
	if m.getHeatmapFn != nil {
		return m.getHeatmapFn(ctx, threadID, days)
	}
	return &analytics.Heatmap{PeakDay: -1, PeakHour: -1}, nil
}

func (m *mockActivityService) GetTimeline(ctx context.Context, threadID, granularity string, days int) (*activity.Timeline, error) {
	if m.getTimelineFn != nil {
		return m.getTimelineFn(ctx, threadID, granularity, days)
	}
	return &activity.Timeline{ThreadID: threadID}, nil
}

func (m *mockActivityService) GetThreadAnalytics(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
	if m.getThreadAnalyticsFn != nil {
		return m.getThreadAnalyticsFn(ctx, threadID)
	}
	return &model.ThreadAnalytics{ThreadID: threadID}, nil
}

func (m *mockActivityService) AnalyzeUserBehavior(ctx context.Context, userID, rangeToken string) (*analytics.UserBehavior, error) {
	if m.analyzeUserBehaviorFn != nil {
		return m.analyzeUserBehaviorFn(ctx, userID, rangeToken)
	}
	return &analytics.UserBehavior{UserID: userID, PeakDay: -1, PeakHour: -1}, nil
}

func (m *mockActivityService) OrganizeThreads(ctx context.Context, userID, rangeToken string) ([]analytics.ThreadGroup, error) {
	if m.organizeThreadsFn != nil {
		return m.organizeThreadsFn(ctx, userID, rangeToken)
	}
	return nil, nil
}

func (m *mockActivityService) Export(ctx context.Context, threadID string, days int, format string) (*activity.ExportResult, error) {
	if m.exportFn != nil {
		return m.exportFn(ctx, threadID, days, format)
	}
	return &activity.ExportResult{Filename: "export.csv", ContentType: "text/csv", Data: []byte("a,b\n")}, nil
}

// mockSearchService はSearchServiceInterfaceのモック実装。
type mockSearchService struct {
	searchThreadsFn     func(ctx context.Context, userID, query string, limit int) (*search.Result, error)
	listHistoryFn       func(ctx context.Context, userID string) ([]model.SearchHistoryEntry, error)
	clearHistoryFn      func(ctx context.Context, userID string) error
	createSavedSearchFn func(ctx context.Context, userID, name, query string) (*model.SavedSearch, error)
	listSavedSearchesFn func(ctx context.Context, userID string) ([]model.SavedSearch, error)
	deleteSavedSearchFn func(ctx context.Context, userID, id string) error
	popularQueriesFn    func(ctx context.Context, days, limit int) ([]search.PopularQuery, error)
}

func (m *mockSearchService) SearchThreads(ctx context.Context, userID, query string, limit int) (*search.Result, error) {
	if m.searchThreadsFn != nil {
		return m.searchThreadsFn(ctx, userID, query, limit)
	}
	return &search.Result{Query: query}, nil
}

func (m *mockSearchService) ListHistory(ctx context.Context, userID string) ([]model.SearchHistoryEntry, error) {
	if m.listHistoryFn != nil {
		return m.listHistoryFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSearchService) ClearHistory(ctx context.Context, userID string) error {
	if m.clearHistoryFn != nil {
		return m.clearHistoryFn(ctx, userID)
	}
	return nil
}

func (m *mockSearchService) CreateSavedSearch(ctx context.Context, userID, name, query string) (*model.SavedSearch, error) {
	if m.createSavedSearchFn != nil {
		return m.createSavedSearchFn(ctx, userID, name, query)
	}
	return &model.SavedSearch{UserID: userID, Name: name, Query: query}, nil
}

func (m *mockSearchService) ListSavedSearches(ctx context.Context, userID string) ([]model.SavedSearch, error) {
	if m.listSavedSearchesFn != nil {
		return m.listSavedSearchesFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSearchService) DeleteSavedSearch(ctx context.Context, userID, id string) error {
	if m.deleteSavedSearchFn != nil {
		return m.deleteSavedSearchFn(ctx, userID, id)
	}
	return nil
}

func (m *mockSearchService) PopularQueries(ctx context.Context, days, limit int) ([]search.PopularQuery, error) {
	if m.popularQueriesFn != nil {
		return m.popularQueriesFn(ctx, days, limit)
	}
	return nil, nil
}

// mockRecommendService はRecommendServiceInterfaceのモック実装。
type mockRecommendService struct {
	recommendFn func(ctx context.Context, userID string, limit int) ([]recommend.Recommendation, error)
}

func (m *mockRecommendService) Recommend(ctx context.Context, userID string, limit int) ([]recommend.Recommendation, error) {
	if m.recommendFn != nil {
		return m.recommendFn(ctx, userID, limit)
	}
	return nil, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

// newTestRouter はモックサービスを差し込んだルーターを返す。nilのサービスは既定のモックで補う。
func newTestRouter(deps *RouterDeps) http.Handler {
	if deps.ActivityService == nil {
		deps.ActivityService = &mockActivityService{}
	}
	if deps.SearchService == nil {
		deps.SearchService = &mockSearchService{}
	}
	if deps.RecommendService == nil {
		deps.RecommendService = &mockRecommendService{}
	}
	return NewRouter(deps)
}

// doRequest はuserIDを識別ヘッダーに設定してリクエストを送る。userIDが空の場合はヘッダーを付けない。
func doRequest(t *testing.T, h http.Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.DefaultUserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeJSON はレスポンスボディをvにデコードする。
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
}

// assertErrorCode はエラーレスポンスのステータスとコードを検証する。
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

// newRecorderWithHeader は任意のヘッダー名でユーザーIDを設定したGETリクエストを送る。
func newRecorderWithHeader(t *testing.T, h http.Handler, path, header, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(header, userID)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
