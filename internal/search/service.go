// Package search はスレッド検索と検索履歴・保存検索・検索分析のドメインロジックを提供する。
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/threadpulse/internal/metrics"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/repository"
	"github.com/hitoshi/threadpulse/internal/security"
)

const (
	// MaxQueryLength は検索クエリの最大文字数。
	MaxQueryLength = 200
	// MaxNameLength は保存検索名の最大文字数。
	MaxNameLength = 100
	// DefaultLimit は検索結果・人気クエリの既定件数。
	DefaultLimit = 20
	// MaxLimit は検索結果・人気クエリの最大件数。
	MaxLimit = 100
)

// Result はスレッド検索の結果。
type Result struct {
	Query   string
	Threads []model.ThreadSearchResult
}

// Service は検索のサービス層。
type Service struct {
	threadRepo    repository.ThreadRepository
	historyRepo   repository.SearchHistoryRepository
	savedRepo     repository.SavedSearchRepository
	analyticsRepo repository.SearchAnalyticsRepository
	sanitizer     security.Sanitizer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	keep          int
	now           func() time.Time
	newID         func() string
}

// NewService はServiceを生成する。keepはユーザーごとに保持する履歴・保存検索の件数で、
// 0以下の場合はmodel.MaxSearchEntriesPerUserを使う。
func NewService(
	threadRepo repository.ThreadRepository,
	historyRepo repository.SearchHistoryRepository,
	savedRepo repository.SavedSearchRepository,
	analyticsRepo repository.SearchAnalyticsRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	keep int,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = model.MaxSearchEntriesPerUser
	}
	return &Service{
		threadRepo:    threadRepo,
		historyRepo:   historyRepo,
		savedRepo:     savedRepo,
		analyticsRepo: analyticsRepo,
		sanitizer:     security.NewTextSanitizer(),
		metrics:       collector,
		logger:        logger,
		keep:          keep,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// SearchThreads はタイトルでスレッドを検索し、検索履歴と検索分析ログを記録する。
// 履歴・分析ログの記録に失敗しても検索結果は返す。
func (s *Service) SearchThreads(ctx context.Context, userID, query string, limit int) (*Result, error) {
	q, err := s.normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	limit, err = resolveLimit(limit)
	if err != nil {
		return nil, err
	}

	threads, err := s.threadRepo.SearchByTitle(ctx, q, limit)
	if err != nil {
		return nil, model.NewDatabaseError("search threads", err)
	}

	now := s.now().UTC()
	if err := s.historyRepo.Create(ctx, &model.SearchHistoryEntry{
		ID:          s.newID(),
		UserID:      userID,
		Query:       q,
		ResultCount: len(threads),
		CreatedAt:   now,
	}, s.keep); err != nil {
		s.logger.Warn("検索履歴の記録に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.analyticsRepo.Create(ctx, &model.SearchAnalyticsEntry{
		ID:          s.newID(),
		UserID:      userID,
		Query:       q,
		ResultCount: len(threads),
		CreatedAt:   now,
	}); err != nil {
		s.logger.Warn("検索分析ログの記録に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	s.metrics.RecordSearch(len(threads))
	return &Result{Query: q, Threads: threads}, nil
}

// ListHistory はユーザーの検索履歴を新しい順に返す。
func (s *Service) ListHistory(ctx context.Context, userID string) ([]model.SearchHistoryEntry, error) {
	entries, err := s.historyRepo.ListByUser(ctx, userID, s.keep)
	if err != nil {
		return nil, model.NewDatabaseError("list search history", err)
	}
	return entries, nil
}

// ClearHistory はユーザーの検索履歴をすべて削除する。
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if err := s.historyRepo.DeleteByUser(ctx, userID); err != nil {
		return model.NewDatabaseError("clear search history", err)
	}
	return nil
}

// CreateSavedSearch は検索条件を保存する。nameが空の場合はクエリを名前に使う。
func (s *Service) CreateSavedSearch(ctx context.Context, userID, name, query string) (*model.SavedSearch, error) {
	q, err := s.normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	n := s.sanitizer.Sanitize(name)
	if n == "" {
		n = q
	}
	if utf8.RuneCountInString(n) > MaxNameLength {
		return nil, model.NewInvalidQueryError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}

	saved := &model.SavedSearch{
		ID:        s.newID(),
		UserID:    userID,
		Name:      n,
		Query:     q,
		CreatedAt: s.now().UTC(),
	}
	if err := s.savedRepo.Create(ctx, saved, s.keep); err != nil {
		return nil, model.NewDatabaseError("create saved search", err)
	}
	return saved, nil
}

// ListSavedSearches はユーザーの保存検索を新しい順に返す。
func (s *Service) ListSavedSearches(ctx context.Context, userID string) ([]model.SavedSearch, error) {
	searches, err := s.savedRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, model.NewDatabaseError("list saved searches", err)
	}
	return searches, nil
}

// DeleteSavedSearch はユーザーの保存検索を削除する。
// 存在しない場合と他ユーザーの保存検索の場合はどちらもNotFoundを返す。
func (s *Service) DeleteSavedSearch(ctx context.Context, userID, id string) error {
	deleted, err := s.savedRepo.Delete(ctx, id, userID)
	if err != nil {
		return model.NewDatabaseError("delete saved search", err)
	}
	if !deleted {
		return model.NewSavedSearchNotFoundError(id)
	}
	return nil
}

// PopularQueries は直近days日の検索分析ログから人気のクエリを返す。
func (s *Service) PopularQueries(ctx context.Context, days, limit int) ([]PopularQuery, error) {
	if err := model.ValidateDays(days); err != nil {
		return nil, err
	}
	limit, err := resolveLimit(limit)
	if err != nil {
		return nil, err
	}

	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	entries, err := s.analyticsRepo.ListSince(ctx, since)
	if err != nil {
		return nil, model.NewDatabaseError("list search analytics", err)
	}
	return Popular(entries, limit), nil
}

// normalizeQuery はクエリからHTMLを除去し、1〜MaxQueryLength文字に収まっているか検証する。
func (s *Service) normalizeQuery(query string) (string, error) {
	q := s.sanitizer.Sanitize(query)
	if q == "" {
		return "", model.NewInvalidQueryError("query is empty")
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", model.NewInvalidQueryError(fmt.Sprintf("query must be at most %d characters", MaxQueryLength))
	}
	return q, nil
}

func resolveLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 1 || limit > MaxLimit {
		return 0, model.NewInvalidLimitError(limit, MaxLimit)
	}
	return limit, nil
}
