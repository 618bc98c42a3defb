package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	UserIDHeader      string
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメインサービス
	ActivityService  ActivityServiceInterface
	SearchService    SearchServiceInterface
	RecommendService RecommendServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → (/api のみ) Identity → RateLimit(General)
//
// エクスポートはさらにRateLimit(Export)を通る。/health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	header := deps.UserIDHeader
	if header == "" {
		header = middleware.DefaultUserIDHeader
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin, header))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))

	activityHandler := NewActivityHandler(deps.ActivityService, logger)
	searchHandler := NewSearchHandler(deps.SearchService, logger)
	recommendHandler := NewRecommendHandler(deps.RecommendService, logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(header))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// スレッド
		r.Route("/threads", func(r chi.Router) {
			r.Get("/organization", activityHandler.OrganizeThreads)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/activities", activityHandler.RecordActivity)
				r.Get("/analytics", activityHandler.GetThreadAnalytics)

				r.Route("/activity", func(r chi.Router) {
					r.Get("/summary", activityHandler.GetSummary)
					r.Get("/engagement", activityHandler.GetEngagement)
					r.Get("/heatmap", activityHandler.GetHeatmap)
					r.Get("/timeline", activityHandler.GetTimeline)

					// エクスポート専用レート制限を追加
					if deps.RateLimiter != nil {
						r.With(deps.RateLimiter.ExportMiddleware()).Get("/export", activityHandler.Export)
					} else {
						r.Get("/export", activityHandler.Export)
					}
				})
			})
		})

		// ユーザー
		r.Get("/users/me/behavior", activityHandler.AnalyzeUserBehavior)

		// 推薦
		r.Get("/recommendations", recommendHandler.Recommend)

		// 検索
		r.Route("/search", func(r chi.Router) {
			r.Get("/threads", searchHandler.SearchThreads)
			r.Get("/popular", searchHandler.PopularQueries)

			r.Get("/history", searchHandler.ListHistory)
			r.Delete("/history", searchHandler.ClearHistory)

			r.Get("/saved", searchHandler.ListSavedSearches)
			r.Post("/saved", searchHandler.CreateSavedSearch)
			r.Delete("/saved/{id}", searchHandler.DeleteSavedSearch)
		})
	})

	return r
}
