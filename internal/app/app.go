package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/threadpulse/internal/activity"
	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/cache"
	"github.com/hitoshi/threadpulse/internal/config"
	"github.com/hitoshi/threadpulse/internal/database"
	"github.com/hitoshi/threadpulse/internal/export"
	"github.com/hitoshi/threadpulse/internal/handler"
	"github.com/hitoshi/threadpulse/internal/logger"
	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/middleware"
	"github.com/hitoshi/threadpulse/internal/recommend"
	"github.com/hitoshi/threadpulse/internal/repository"
	"github.com/hitoshi/threadpulse/internal/search"
	"github.com/hitoshi/threadpulse/internal/security"
	"github.com/hitoshi/threadpulse/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, nil)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, cfg.SlogLevel()), nil
}

// openDatabase はコネクションプールを開き、到達できることを確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newCache はCACHE_BACKENDに対応するキャッシュを生成する。
// 返り値のclose関数は常にnil以外で、Redis接続の解放に使う。
func newCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.Cache, func(), error) {
	c, err := cache.New(cache.Options{
		Backend:    cache.Backend(cfg.CacheBackend),
		Size:       cfg.CacheSize,
		DefaultTTL: cfg.RecommendationCacheTTL,
		RedisURL:   cfg.RedisURL,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to create cache: %w", err)
	}

	rc, ok := c.(*cache.RedisCache)
	if !ok {
		return c, func() {}, nil
	}
	// Redisに到達できなくても起動は続け、推薦は都度計算にフォールバックする
	if err := rc.Ping(ctx); err != nil {
		log.Warn("redis is unreachable, recommendations will not be cached",
			slog.String("error", err.Error()),
		)
	}
	return c, func() { rc.Close() }, nil
}

// apiServer はserveモードで組み立てた依存関係。
type apiServer struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// newAPIServer はリポジトリ・サービス・ルーターをワイヤリングしてHTTPハンドラーを構築する。
// DB接続の確立は呼び出し側の責務。
func newAPIServer(cfg *config.Config, db *sql.DB, c cache.Cache, log *slog.Logger, reg *prometheus.Registry) (*apiServer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	threadRepo := repository.NewPostgresThreadRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	threadAnalyticsRepo := repository.NewPostgresThreadAnalyticsRepo(db)
	historyRepo := repository.NewPostgresSearchHistoryRepo(db)
	savedRepo := repository.NewPostgresSavedSearchRepo(db)
	searchAnalyticsRepo := repository.NewPostgresSearchAnalyticsRepo(db)

	// 3. ドメインサービスの初期化
	recommendService := recommend.NewService(threadRepo, activityRepo, c, collector, log, recommend.Config{
		Thresholds: recommend.Thresholds{
			High:   cfg.RecommendationReasonHigh,
			Medium: cfg.RecommendationReasonMedium,
		},
		DefaultLimit: cfg.RecommendationLimit,
		CacheTTL:     cfg.RecommendationCacheTTL,
	})
	activityService := activity.NewService(
		threadRepo, activityRepo, threadAnalyticsRepo,
		recommendService,
		export.NewFormatter(security.NewTextSanitizer()),
		analytics.NewAggregator(loc),
		collector, log,
	)
	searchService := search.NewService(
		threadRepo, historyRepo, savedRepo, searchAnalyticsRepo,
		collector, log, cfg.SearchHistoryLimit,
	)

	// 4. ルーターの構築（設定はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitExport), log,
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		UserIDHeader:      cfg.UserIDHeader,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		ActivityService:   activityService,
		SearchService:     searchService,
		RecommendService:  recommendService,
	})

	return &apiServer{handler: router, rateLimiter: rateLimiter}, nil
}

// newRegistry はアプリケーションのメトリクスとランタイムのメトリクスを登録するレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	c, closeCache, err := newCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	api, err := newAPIServer(cfg, db, c, log, newRegistry())
	if err != nil {
		return err
	}
	defer api.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      api.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("API server starting",
		slog.String("addr", server.Addr),
		slog.String("cache_backend", cfg.CacheBackend),
	)
	return serveUntilDone(ctx, server, log)
}

// serveUntilDone はctxがキャンセルされるまでHTTPサーバーを動かし、その後グレースフルシャットダウンする。
// 待ち受けに失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、保持期間切れの記録を削除するクリーンアップジョブを定期実行する。
// 削除件数はWORKER_METRICS_PORTの/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	reg := newRegistry()
	cleanupJob := cleanup.NewCleanupJob(db, log, metrics.NewCollector(reg), cfg.ActivityRetentionDays)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// メトリクスサーバーが起動できない場合はワーカーも停止する
	metricsErr := make(chan error, 1)
	go func() {
		err := serveUntilDone(ctx, newWorkerMetricsServer(cfg.WorkerMetricsPort, reg), log)
		if err != nil {
			stop()
		}
		metricsErr <- err
	}()

	log.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.ActivityRetentionDays),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	if err := <-metricsErr; err != nil {
		return fmt.Errorf("worker metrics server: %w", err)
	}
	log.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はworker用の/metricsだけを公開するHTTPサーバーを生成する。
func newWorkerMetricsServer(port string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Get("/metrics", metrics.Handler(reg).ServeHTTP)
	return &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown は直近steps件のマイグレーションを取り消す。
func runMigrateDown(cfg *config.Config, log *slog.Logger, steps int) error {
	if steps < 1 {
		return fmt.Errorf("steps must be positive: %d", steps)
	}
	log.Info("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	log.Info("database rollback completed successfully")
	return nil
}

// runMigrateVersion は適用済みのマイグレーションバージョンをwに出力する。
func runMigrateVersion(w io.Writer, cfg *config.Config) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(w, "%d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(w, "%d\n", version)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckURL はポートからヘルスチェック先のURLを組み立てる。
// portが空の場合はSERVER_PORT、それも未設定なら8080を使う。
func healthcheckURL(port string) string {
	if port == "" {
		port = os.Getenv("SERVER_PORT")
	}
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
