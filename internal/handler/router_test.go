package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// testRateLimiter はテスト中に補充されないほど遅いレートのRateLimiterを返す。
func testRateLimiter(t *testing.T, generalBurst, exportBurst int) *middleware.RateLimiter {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     0.001,
		GeneralBurst:    generalBurst,
		ExportRate:      0.001,
		ExportBurst:     exportBurst,
		CleanupInterval: time.Minute,
	}, nil)
	t.Cleanup(rl.Stop)
	return rl
}

// TestRouter_APIRequiresIdentity は/api配下が識別ヘッダーなしでは401になることを検証する。
func TestRouter_APIRequiresIdentity(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	paths := []string{
		"/api/threads/" + testThreadID + "/activity/summary",
		"/api/threads/organization",
		"/api/users/me/behavior",
		"/api/recommendations",
		"/api/search/threads?q=x",
		"/api/search/saved",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, p, "", "")
			assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		})
	}

	t.Run("UUIDでない識別ヘッダーは401", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/recommendations", "", "admin")
		assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
	})
}

// TestRouter_CustomUserIDHeader は設定した識別ヘッダー名が使われることを検証する。
func TestRouter_CustomUserIDHeader(t *testing.T) {
	router := newTestRouter(&RouterDeps{UserIDHeader: "X-Forwarded-User"})

	req := doRequest(t, router, http.MethodGet, "/api/recommendations", "", testUserID)
	if req.Code != http.StatusUnauthorized {
		t.Errorf("default header status = %d, want 401", req.Code)
	}

	w := newRecorderWithHeader(t, router, "/api/recommendations", "X-Forwarded-User", testUserID)
	if w.Code != http.StatusOK {
		t.Errorf("custom header status = %d, want 200", w.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	t.Run("DB疎通OKなら200", func(t *testing.T) {
		router := newTestRouter(&RouterDeps{HealthChecker: &mockHealthChecker{}})

		w := doRequest(t, router, http.MethodGet, "/health", "", "")

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp healthResponse
		decodeJSON(t, w, &resp)
		if resp.Status != "ok" {
			t.Errorf("status = %q, want ok", resp.Status)
		}
	})

	t.Run("DB疎通NGなら503", func(t *testing.T) {
		router := newTestRouter(&RouterDeps{HealthChecker: &mockHealthChecker{err: errors.New("connection refused")}})

		w := doRequest(t, router, http.MethodGet, "/health", "", "")

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})
}

// TestRouter_MetricsEndpoint はAPIリクエストのステータスが/metricsに反映されることを検証する。
func TestRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	router := newTestRouter(&RouterDeps{
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	})

	doRequest(t, router, http.MethodGet, "/api/recommendations", "", "")

	w := doRequest(t, router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `threadpulse_http_status_total{status_code="401"} 1`) {
		t.Errorf("metrics output does not include the 401 response:\n%s", w.Body.String())
	}
}

// TestRouter_GeneralRateLimit は一般レート制限がユーザー単位で適用されることを検証する。
func TestRouter_GeneralRateLimit(t *testing.T) {
	router := newTestRouter(&RouterDeps{RateLimiter: testRateLimiter(t, 2, 2)})

	for i := 0; i < 2; i++ {
		w := doRequest(t, router, http.MethodGet, "/api/recommendations", "", testUserID)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
	w := doRequest(t, router, http.MethodGet, "/api/recommendations", "", testUserID)
	assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)

	other := "7f1b2c3d-0000-4000-8000-000000000002"
	if w := doRequest(t, router, http.MethodGet, "/api/recommendations", "", other); w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}
}

// TestRouter_ExportRateLimit はエクスポートだけが専用の制限を受けることを検証する。
func TestRouter_ExportRateLimit(t *testing.T) {
	router := newTestRouter(&RouterDeps{RateLimiter: testRateLimiter(t, 100, 1)})
	exportPath := "/api/threads/" + testThreadID + "/activity/export?format=csv"

	if w := doRequest(t, router, http.MethodGet, exportPath, "", testUserID); w.Code != http.StatusOK {
		t.Fatalf("first export status = %d, want 200", w.Code)
	}
	w := doRequest(t, router, http.MethodGet, exportPath, "", testUserID)
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)

	if w := doRequest(t, router, http.MethodGet, "/api/threads/"+testThreadID+"/analytics", "", testUserID); w.Code != http.StatusOK {
		t.Errorf("non-export status = %d, want 200", w.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(&RouterDeps{CORSAllowedOrigin: "https://app.example.com"})

	w := doRequest(t, router, http.MethodOptions, "/api/recommendations", "", "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, middleware.DefaultUserIDHeader) {
		t.Errorf("Allow-Headers = %q, should include the identity header", got)
	}
}

func TestRouter_SecurityHeadersOnAllResponses(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	for _, p := range []string{"/health", "/api/recommendations", "/no-such-route"} {
		w := doRequest(t, router, http.MethodGet, p, "", testUserID)
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("%s: X-Content-Type-Options = %q, want nosniff", p, got)
		}
	}
}

// TestRouter_PanicIsRecovered はハンドラー内のpanicが500の統一エラーになることを検証する。
func TestRouter_PanicIsRecovered(t *testing.T) {
	svc := &mockActivityService{
		getThreadAnalyticsFn: func(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
			panic("boom")
		},
	}
	router := newTestRouter(&RouterDeps{ActivityService: svc})

	w := doRequest(t, router, http.MethodGet, "/api/threads/"+testThreadID+"/analytics", "", testUserID)

	assertErrorCode(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
}

// TestRouter_OrganizationIsNotAThreadID は/api/threads/organizationがスレッドIDとして扱われないことを検証する。
func TestRouter_OrganizationIsNotAThreadID(t *testing.T) {
	called := false
	svc := &mockActivityService{
		organizeThreadsFn: func(ctx context.Context, userID, rangeToken string) ([]analytics.ThreadGroup, error) {
			called = true
			return nil, nil
		},
	}
	router := newTestRouter(&RouterDeps{ActivityService: svc})

	w := doRequest(t, router, http.MethodGet, "/api/threads/organization", "", testUserID)

	if w.Code != http.StatusOK || !called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}
}
