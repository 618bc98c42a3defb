// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordActivity(activityType string)
	RecordAnalyticsDuration(operation string, duration time.Duration)
	RecordCacheHit(name string)
	RecordCacheMiss(name string)
	RecordExport(format string)
	RecordSearch(resultCount int)
	RecordCleanupDeleted(table string, count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activities        *prometheus.CounterVec
	analyticsDuration *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	exports           *prometheus.CounterVec
	searches          prometheus.Counter
	searchResults     prometheus.Histogram
	cleanupDeleted    *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_activities_recorded_total",
			Help: "種別ごとの記録されたアクティビティ数",
		}, []string{"type"}),
		analyticsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadpulse_analytics_duration_seconds",
			Help:    "分析処理の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_cache_hits_total",
			Help: "キャッシュヒット数",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_cache_misses_total",
			Help: "キャッシュミス数",
		}, []string{"cache"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_exports_total",
			Help: "形式ごとのエクスポート数",
		}, []string{"format"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadpulse_searches_total",
			Help: "スレッド検索の合計数",
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadpulse_search_results",
			Help:    "スレッド検索1回あたりの結果件数",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_cleanup_deleted_total",
			Help: "保持期間切れで削除された行数",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadpulse_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.activities,
		c.analyticsDuration,
		c.cacheHits,
		c.cacheMisses,
		c.exports,
		c.searches,
		c.searchResults,
		c.cleanupDeleted,
		c.httpStatus,
	)

	return c
}

// RecordActivity はアクティビティの記録を種別ごとに数える。
func (c *Collector) RecordActivity(activityType string) {
	c.activities.WithLabelValues(activityType).Inc()
}

// RecordAnalyticsDuration は分析処理の所要時間を記録する。
func (c *Collector) RecordAnalyticsDuration(operation string, duration time.Duration) {
	c.analyticsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(name string) {
	c.cacheHits.WithLabelValues(name).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(name string) {
	c.cacheMisses.WithLabelValues(name).Inc()
}

// RecordExport はエクスポートを形式ごとに数える。
func (c *Collector) RecordExport(format string) {
	c.exports.WithLabelValues(format).Inc()
}

// RecordSearch はスレッド検索と結果件数を記録する。
func (c *Collector) RecordSearch(resultCount int) {
	c.searches.Inc()
	c.searchResults.Observe(float64(resultCount))
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(table string, count int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordActivity(string)                         {}
func (Nop) RecordAnalyticsDuration(string, time.Duration) {}
func (Nop) RecordCacheHit(string)                         {}
func (Nop) RecordCacheMiss(string)                        {}
func (Nop) RecordExport(string)                           {}
func (Nop) RecordSearch(int)                              {}
func (Nop) RecordCleanupDeleted(string, int64)            {}
func (Nop) RecordHTTPStatus(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
