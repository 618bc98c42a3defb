package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/threadpulse/internal/cache"
	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/repository"
)

const (
	// cacheName はメトリクスで使うキャッシュ名。
	cacheName = "recommendations"
	// DefaultCacheTTL は推薦結果のキャッシュ保持期間の既定値。
	DefaultCacheTTL = time.Hour
	// candidatePoolSize はランキング対象として取得する候補スレッドの最大数。
	candidatePoolSize = 200
)

// CacheKey は推薦結果のキャッシュキーを返す。
func CacheKey(userID string, limit int) string {
	return fmt.Sprintf("recommendations:%s:%d", userID, limit)
}

// userKeyPrefix はユーザーの推薦結果すべてに共通するキャッシュキーの接頭辞。
func userKeyPrefix(userID string) string {
	return fmt.Sprintf("recommendations:%s:", userID)
}

// Config はServiceの設定。
type Config struct {
	Weights      Weights
	Thresholds   Thresholds
	DefaultLimit int
	CacheTTL     time.Duration
}

// Service はスナップショットの取得・ランキング・キャッシュをまとめた推薦サービス。
type Service struct {
	threadRepo   repository.ThreadRepository
	activityRepo repository.ActivityRepository
	cache        cache.Cache
	ranker       *Ranker
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	defaultLimit int
	ttl          time.Duration
	now          func() time.Time
}

// NewService はServiceを生成する。cacheがnilの場合はキャッシュしない。
func NewService(
	threadRepo repository.ThreadRepository,
	activityRepo repository.ActivityRepository,
	c cache.Cache,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if c == nil {
		c = cache.NopCache{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > MaxLimit {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	return &Service{
		threadRepo:   threadRepo,
		activityRepo: activityRepo,
		cache:        c,
		ranker:       NewRanker(cfg.Weights, cfg.Thresholds),
		metrics:      collector,
		logger:       logger,
		defaultLimit: cfg.DefaultLimit,
		ttl:          cfg.CacheTTL,
		now:          time.Now,
	}
}

// Recommend はユーザーへの推薦を関連度の降順で最大limit件返す。
// limitが0の場合は既定値を使い、範囲外の場合はValidationエラーを返す。
// キャッシュの障害は推薦の失敗とせず、ログに記録して再計算する。
func (s *Service) Recommend(ctx context.Context, userID string, limit int) ([]Recommendation, error) {
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, model.NewInvalidLimitError(limit, MaxLimit)
	}

	key := CacheKey(userID, limit)
	if cached, ok := s.fromCache(ctx, key); ok {
		s.metrics.RecordCacheHit(cacheName)
		return cached, nil
	}
	s.metrics.RecordCacheMiss(cacheName)

	start := time.Now()
	in, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := s.ranker.Rank(in, limit)
	s.metrics.RecordAnalyticsDuration("recommend", time.Since(start))

	if b, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
			s.logger.Warn("推薦結果のキャッシュ保存に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	return result, nil
}

// Invalidate はユーザーのキャッシュ済み推薦結果をすべて破棄する。
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if err := s.cache.DeletePrefix(ctx, userKeyPrefix(userID)); err != nil {
		return fmt.Errorf("推薦キャッシュの破棄に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) fromCache(ctx context.Context, key string) ([]Recommendation, bool) {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("推薦結果のキャッシュ取得に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result []Recommendation
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, false
	}
	return result, true
}

// snapshot はランキングに必要なデータをリポジトリから取得する。
func (s *Service) snapshot(ctx context.Context, userID string) (Input, error) {
	now := s.now()
	historySince := now.Add(-UserHistoryWindow)

	userRecords, err := s.activityRepo.ListByUser(ctx, userID, historySince)
	if err != nil {
		return Input{}, model.NewDatabaseError("list user activities", err)
	}

	collaborators, err := s.threadRepo.ListCollaborators(ctx, userID, historySince)
	if err != nil {
		return Input{}, model.NewDatabaseError("list collaborators", err)
	}

	threads, err := s.threadRepo.ListCandidatesForUser(ctx, userID, now.Add(-RecentWindow), candidatePoolSize)
	if err != nil {
		return Input{}, model.NewDatabaseError("list candidate threads", err)
	}

	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}

	var records []model.ActivityRecord
	if len(ids) > 0 {
		records, err = s.activityRepo.ListByThreads(ctx, ids, historySince)
		if err != nil {
			return Input{}, model.NewDatabaseError("list candidate activities", err)
		}
	}

	byThread := make(map[string][]model.ActivityRecord, len(ids))
	for _, r := range records {
		byThread[r.ThreadID] = append(byThread[r.ThreadID], r)
	}

	candidates := make([]Candidate, 0, len(threads))
	for _, t := range threads {
		candidates = append(candidates, Candidate{
			ThreadID: t.ID,
			Title:    t.Title,
			Records:  byThread[t.ID],
		})
	}

	return Input{
		UserID:        userID,
		UserRecords:   userRecords,
		Collaborators: collaborators,
		Candidates:    candidates,
		Now:           now,
	}, nil
}
