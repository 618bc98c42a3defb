// Package activity はアクティビティ記録と、スレッド・ユーザー単位の分析のドメインロジックを提供する。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/export"
	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/repository"
)

// CacheInvalidator はユーザー単位の派生キャッシュを破棄する。
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Timeline は時系列バケットの取得結果。
type Timeline struct {
	ThreadID    string
	Granularity analytics.Granularity
	From        time.Time
	To          time.Time
	Buckets     []analytics.Bucket
}

// Summary はスレッドの集計結果と対象の日数。
type Summary struct {
	ThreadID string
	Days     int
	analytics.ActivitySummary
}

// ExportResult はエクスポートの出力。
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service はアクティビティの記録と分析のサービス層。
type Service struct {
	threadRepo    repository.ThreadRepository
	activityRepo  repository.ActivityRepository
	analyticsRepo repository.ThreadAnalyticsRepository
	invalidator   CacheInvalidator
	formatter     *export.Formatter
	aggregator    *analytics.Aggregator
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewService はServiceを生成する。invalidatorがnilの場合はキャッシュ破棄を行わない。
func NewService(
	threadRepo repository.ThreadRepository,
	activityRepo repository.ActivityRepository,
	analyticsRepo repository.ThreadAnalyticsRepository,
	invalidator CacheInvalidator,
	formatter *export.Formatter,
	aggregator *analytics.Aggregator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if formatter == nil {
		formatter = export.NewFormatter(nil)
	}
	if aggregator == nil {
		aggregator = analytics.NewAggregator(nil)
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		threadRepo:    threadRepo,
		activityRepo:  activityRepo,
		analyticsRepo: analyticsRepo,
		invalidator:   invalidator,
		formatter:     formatter,
		aggregator:    aggregator,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// RecordActivity はスレッドへの操作を記録し、スレッドカウンタを加算する。
// 記録とカウンタ加算は同一トランザクションで行うため、失敗時にどちらか一方だけが残ることはない。
// 種別は大文字小文字を区別せず正規化してから検証する。
func (s *Service) RecordActivity(ctx context.Context, userID, threadID, rawType string, metadata map[string]any) (*model.ActivityRecord, error) {
	typ := model.NormalizeActivityType(rawType)
	if !typ.IsKnown() {
		return nil, model.NewInvalidActivityTypeError(rawType)
	}
	if _, err := s.findThread(ctx, threadID); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	record := &model.ActivityRecord{
		ID:        s.newID(),
		ThreadID:  threadID,
		UserID:    userID,
		Type:      typ,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	}
	if err := s.activityRepo.Create(ctx, record, model.DeltaFor(typ)); err != nil {
		return nil, model.NewDatabaseError("create activity", err)
	}

	// キャッシュ破棄の失敗は記録自体の失敗とはしない
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("推薦キャッシュの破棄に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.metrics.RecordActivity(string(typ))
	s.logger.Debug("アクティビティを記録しました",
		slog.String("thread_id", threadID),
		slog.String("user_id", userID),
		slog.String("type", string(typ)),
	)
	return record, nil
}

// GetSummary は直近days日のスレッドの集計結果を返す。
func (s *Service) GetSummary(ctx context.Context, threadID string, days int) (*Summary, error) {
	if err := model.ValidateDays(days); err != nil {
		return nil, err
	}
	records, w, err := s.threadRecords(ctx, threadID, days)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := s.aggregator.Aggregate(records, w)
	s.metrics.RecordAnalyticsDuration("summary", time.Since(start))

	return &Summary{ThreadID: threadID, Days: days, ActivitySummary: summary}, nil
}

// GetEngagement は集計期間トークンで指定された期間のエンゲージメント指標を返す。
func (s *Service) GetEngagement(ctx context.Context, threadID, rangeToken string) (*analytics.EngagementMetrics, error) {
	r, err := model.ParseTimeRange(rangeToken)
	if err != nil {
		return nil, err
	}
	records, w, err := s.threadRecords(ctx, threadID, r.Days())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m := analytics.Engagement(s.aggregator.Aggregate(records, w), r)
	s.metrics.RecordAnalyticsDuration("engagement", time.Since(start))
	return &m, nil
}

// GetHeatmap は直近days日の曜日×時間帯のヒートマップを返す。
func (s *Service) GetHeatmap(ctx context.Context, threadID string, days int) (*analytics.Heatmap, error) {
	if err := model.ValidateDays(days); err != nil {
		return nil, err
	}
	records, w, err := s.threadRecords(ctx, threadID, days)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	h := analytics.BuildHeatmap(records, w, s.aggregator.Location())
	s.metrics.RecordAnalyticsDuration("heatmap", time.Since(start))
	return &h, nil
}

// GetTimeline は直近days日の記録を粒度ごとのバケットに数えて返す。
// 記録のないバケットも件数0で含める。
func (s *Service) GetTimeline(ctx context.Context, threadID, granularity string, days int) (*Timeline, error) {
	g, err := analytics.ParseGranularity(granularity)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateDays(days); err != nil {
		return nil, err
	}
	if _, err := s.findThread(ctx, threadID); err != nil {
		return nil, err
	}

	to := s.now()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	records, err := s.activityRepo.ListByThread(ctx, threadID, from)
	if err != nil {
		return nil, model.NewDatabaseError("list thread activities", err)
	}

	start := time.Now()
	buckets := analytics.Timeline(records, analytics.NewBucketer(g, s.aggregator.Location()), from, to)
	s.metrics.RecordAnalyticsDuration("timeline", time.Since(start))

	return &Timeline{ThreadID: threadID, Granularity: g, From: from, To: to, Buckets: buckets}, nil
}

// GetThreadAnalytics はスレッドの非正規化カウンタを返す。
// まだ記録がないスレッドはすべて0のカウンタを返す。
func (s *Service) GetThreadAnalytics(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
	if _, err := s.findThread(ctx, threadID); err != nil {
		return nil, err
	}
	counters, err := s.analyticsRepo.FindByThread(ctx, threadID)
	if err != nil {
		return nil, model.NewDatabaseError("find thread analytics", err)
	}
	if counters == nil {
		counters = &model.ThreadAnalytics{ThreadID: threadID}
	}
	return counters, nil
}

// AnalyzeUserBehavior は集計期間内のユーザー自身の記録から行動傾向を返す。
func (s *Service) AnalyzeUserBehavior(ctx context.Context, userID, rangeToken string) (*analytics.UserBehavior, error) {
	r, err := model.ParseTimeRange(rangeToken)
	if err != nil {
		return nil, err
	}
	w := analytics.LastDays(s.now(), r.Days())
	records, err := s.activityRepo.ListByUser(ctx, userID, w.Start)
	if err != nil {
		return nil, model.NewDatabaseError("list user activities", err)
	}

	start := time.Now()
	b := s.aggregator.AnalyzeUserBehavior(userID, records, w, r)
	s.metrics.RecordAnalyticsDuration("behavior", time.Since(start))
	return &b, nil
}

// OrganizeThreads はユーザーが関与するスレッドを健全性ごとにまとめ、優先度順に並べて返す。
func (s *Service) OrganizeThreads(ctx context.Context, userID, rangeToken string) ([]analytics.ThreadGroup, error) {
	r, err := model.ParseTimeRange(rangeToken)
	if err != nil {
		return nil, err
	}
	threads, err := s.threadRepo.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, model.NewDatabaseError("list participant threads", err)
	}

	now := s.now()
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	records, err := s.activityRepo.ListByThreads(ctx, ids, analytics.LastDays(now, r.Days()).Start)
	if err != nil {
		return nil, model.NewDatabaseError("list thread activities", err)
	}

	byThread := make(map[string][]model.ActivityRecord, len(ids))
	for _, rec := range records {
		byThread[rec.ThreadID] = append(byThread[rec.ThreadID], rec)
	}
	input := make([]analytics.ThreadActivity, 0, len(threads))
	for _, t := range threads {
		input = append(input, analytics.ThreadActivity{ThreadID: t.ID, Title: t.Title, Records: byThread[t.ID]})
	}

	start := time.Now()
	groups := s.aggregator.Organize(input, r, now)
	s.metrics.RecordAnalyticsDuration("organize", time.Since(start))
	return groups, nil
}

// Export は直近days日のスレッドの記録を指定形式で出力する。
// 形式と日数はストアにアクセスする前に検証する。
func (s *Service) Export(ctx context.Context, threadID string, days int, format string) (*ExportResult, error) {
	ft, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateDays(days); err != nil {
		return nil, err
	}
	if _, err := s.findThread(ctx, threadID); err != nil {
		return nil, err
	}

	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := s.activityRepo.ListExportRows(ctx, threadID, since)
	if err != nil {
		return nil, model.NewDatabaseError("list export rows", err)
	}

	data, err := s.formatter.Format(rows, string(ft))
	if err != nil {
		return nil, fmt.Errorf("エクスポートの生成に失敗しました: %w", err)
	}
	s.metrics.RecordExport(string(ft))

	return &ExportResult{
		Filename:    fmt.Sprintf("thread-%s-activity%s", threadID, ft.Extension()),
		ContentType: ft.ContentType(),
		Data:        data,
	}, nil
}

// findThread はスレッドを取得し、存在しない場合はNotFoundエラーを返す。
func (s *Service) findThread(ctx context.Context, threadID string) (*model.Thread, error) {
	thread, err := s.threadRepo.FindByID(ctx, threadID)
	if err != nil {
		return nil, model.NewDatabaseError("find thread", err)
	}
	if thread == nil {
		return nil, model.NewThreadNotFoundError(threadID)
	}
	return thread, nil
}

// threadRecords はスレッドの存在を確認し、直近days日の記録と時間窓を返す。
func (s *Service) threadRecords(ctx context.Context, threadID string, days int) ([]model.ActivityRecord, analytics.Window, error) {
	if _, err := s.findThread(ctx, threadID); err != nil {
		return nil, analytics.Window{}, err
	}
	w := analytics.LastDays(s.now(), days)
	records, err := s.activityRepo.ListByThread(ctx, threadID, w.Start)
	if err != nil {
		return nil, analytics.Window{}, model.NewDatabaseError("list thread activities", err)
	}
	return records, w, nil
}
