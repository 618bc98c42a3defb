package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// キャッシュバックエンドの種類。
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	// Server
	ServerPort        string `envconfig:"SERVER_PORT" default:"8080"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN"`
	UserIDHeader      string `envconfig:"USER_ID_HEADER" default:"X-User-ID"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Rate Limit（req/min/user）
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitExport  int `envconfig:"RATE_LIMIT_EXPORT" default:"10"`

	// Cache
	CacheBackend string `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheSize    int    `envconfig:"CACHE_SIZE" default:"1024"`
	RedisURL     string `envconfig:"REDIS_URL"`

	// Recommendation
	RecommendationCacheTTL     time.Duration `envconfig:"RECOMMENDATION_CACHE_TTL" default:"1h"`
	RecommendationLimit        int           `envconfig:"RECOMMENDATION_LIMIT" default:"5"`
	RecommendationReasonHigh   float64       `envconfig:"RECOMMENDATION_REASON_HIGH" default:"0.7"`
	RecommendationReasonMedium float64       `envconfig:"RECOMMENDATION_REASON_MEDIUM" default:"0.4"`

	// Retention
	ActivityRetentionDays int           `envconfig:"ACTIVITY_RETENTION_DAYS" default:"90"`
	SearchHistoryLimit    int           `envconfig:"SEARCH_HISTORY_LIMIT" default:"100"`
	CleanupInterval       time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h"`

	// WorkerMetricsPort はworkerが/metricsを公開するポート。
	WorkerMetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9090"`

	// Timezone はhour/dayの集計に使うタイムゾーン。"Local"はサーバーのローカル時刻。
	Timezone string `envconfig:"TIMEZONE" default:"Local"`
}

// Load は環境変数からConfigを読み込み、値の組み合わせを検証する。
// 必須環境変数が未設定の場合と値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は環境変数だけでは表現できない制約を検証する。
func (c *Config) Validate() error {
	// 空文字列が設定されている場合はenvconfigのrequiredで検出できない
	if c.DatabaseURL == "" {
		return fmt.Errorf("required environment variable DATABASE_URL is empty")
	}

	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendNone:
	case CacheBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is %q", CacheBackendRedis)
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND: %q", c.CacheBackend)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.RateLimitGeneral < 1 || c.RateLimitExport < 1 {
		return fmt.Errorf("RATE_LIMIT_GENERAL and RATE_LIMIT_EXPORT must be positive")
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("CACHE_SIZE must be positive, got %d", c.CacheSize)
	}
	if c.ActivityRetentionDays < 1 {
		return fmt.Errorf("ACTIVITY_RETENTION_DAYS must be positive, got %d", c.ActivityRetentionDays)
	}
	if c.SearchHistoryLimit < 1 {
		return fmt.Errorf("SEARCH_HISTORY_LIMIT must be positive, got %d", c.SearchHistoryLimit)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if c.RecommendationReasonMedium < 0 || c.RecommendationReasonHigh > 1 ||
		c.RecommendationReasonMedium >= c.RecommendationReasonHigh {
		return fmt.Errorf("recommendation reason thresholds must satisfy 0 <= medium < high <= 1, got medium=%v high=%v",
			c.RecommendationReasonMedium, c.RecommendationReasonHigh)
	}
	return nil
}

// Location はTIMEZONEに対応する*time.Locationを返す。
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel はLOG_LEVELに対応するslog.Levelを返す。不正な値の場合はInfoを返す。
func (c *Config) SlogLevel() slog.Level {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLogLevel はdebug/info/warn/errorをslog.Levelに変換する。大文字小文字は区別しない。
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported LOG_LEVEL: %q", s)
	}
}
