package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/threadpulse/internal/cache"
	"github.com/hitoshi/threadpulse/internal/model"
)

// --- モック ---

type mockThreadRepo struct {
	listCandidatesFn    func(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error)
	listCollaboratorsFn func(ctx context.Context, userID string, since time.Time) ([]string, error)
	candidateCalls      int
}

func (m *mockThreadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	return nil, nil
}
func (m *mockThreadRepo) ListByParticipant(ctx context.Context, userID string) ([]*model.Thread, error) {
	return nil, nil
}
func (m *mockThreadRepo) ListCandidatesForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error) {
	m.candidateCalls++
	return m.listCandidatesFn(ctx, userID, since, limit)
}
func (m *mockThreadRepo) ListCollaborators(ctx context.Context, userID string, since time.Time) ([]string, error) {
	if m.listCollaboratorsFn != nil {
		return m.listCollaboratorsFn(ctx, userID, since)
	}
	return nil, nil
}
func (m *mockThreadRepo) SearchByTitle(ctx context.Context, query string, limit int) ([]model.ThreadSearchResult, error) {
	return nil, nil
}

type mockActivityRepo struct {
	listByUserFn    func(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error)
	listByThreadsFn func(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error)
}

func (m *mockActivityRepo) Create(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error {
	return nil
}
func (m *mockActivityRepo) ListByThread(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
	return nil, nil
}
func (m *mockActivityRepo) ListByUser(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, since)
	}
	return nil, nil
}
func (m *mockActivityRepo) ListByThreads(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error) {
	if m.listByThreadsFn != nil {
		return m.listByThreadsFn(ctx, threadIDs, since)
	}
	return nil, nil
}
func (m *mockActivityRepo) ListExportRows(ctx context.Context, threadID string, since time.Time) ([]model.ActivityExportRow, error) {
	return nil, nil
}

type recordingMetrics struct {
	hits, misses int
}

func (m *recordingMetrics) RecordActivity(string)                         {}
func (m *recordingMetrics) RecordAnalyticsDuration(string, time.Duration) {}
func (m *recordingMetrics) RecordCacheHit(string)                         { m.hits++ }
func (m *recordingMetrics) RecordCacheMiss(string)                        { m.misses++ }
func (m *recordingMetrics) RecordExport(string)                           {}
func (m *recordingMetrics) RecordSearch(int)                              {}
func (m *recordingMetrics) RecordCleanupDeleted(string, int64)            {}
func (m *recordingMetrics) RecordHTTPStatus(int)                          {}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) DeletePrefix(context.Context, string) error { return errors.New("cache down") }

// --- ヘルパー ---

func newTestService(c cache.Cache, m *recordingMetrics) (*Service, *mockThreadRepo) {
	threads := &mockThreadRepo{
		listCandidatesFn: func(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error) {
			return []*model.Thread{{ID: "t1", Title: "One"}, {ID: "t2", Title: "Two"}}, nil
		},
		listCollaboratorsFn: func(ctx context.Context, userID string, since time.Time) ([]string, error) {
			return []string{"u2"}, nil
		},
	}
	activities := &mockActivityRepo{
		listByUserFn: func(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error) {
			return []model.ActivityRecord{{ThreadID: "t0", UserID: userID, Type: model.ActivityView, Timestamp: now.Add(-time.Hour)}}, nil
		},
		listByThreadsFn: func(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error) {
			return []model.ActivityRecord{
				{ThreadID: "t2", UserID: "u2", Type: model.ActivityView, Timestamp: now.Add(-time.Hour)},
				{ThreadID: "t1", UserID: "u3", Type: model.ActivityMessageCreated, Timestamp: now.Add(-time.Hour)},
			}, nil
		},
	}
	svc := NewService(threads, activities, c, m, nil, Config{})
	svc.now = func() time.Time { return now }
	return svc, threads
}

func TestCacheKey(t *testing.T) {
	if got := CacheKey("u1", 5); got != "recommendations:u1:5" {
		t.Errorf("CacheKey = %q", got)
	}
}

func TestRecommend_RanksSnapshot(t *testing.T) {
	svc, _ := newTestService(cache.NopCache{}, &recordingMetrics{})

	got, err := svc.Recommend(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ThreadID != "t2" {
		t.Errorf("first = %s, want t2 (shared collaborator and interest)", got[0].ThreadID)
	}
	if got[0].Title != "Two" {
		t.Errorf("Title = %q, want Two", got[0].Title)
	}
}

func TestRecommend_UsesCacheUntilInvalidated(t *testing.T) {
	m := &recordingMetrics{}
	svc, threads := newTestService(cache.NewMemoryCache(10, time.Hour), m)
	ctx := context.Background()

	first, err := svc.Recommend(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}
	second, err := svc.Recommend(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}

	if threads.candidateCalls != 1 {
		t.Errorf("candidate calls = %d, want 1 (second call cached)", threads.candidateCalls)
	}
	if m.hits != 1 || m.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", m.hits, m.misses)
	}
	if len(first) != len(second) || first[0].ThreadID != second[0].ThreadID || first[0].RelevanceScore != second[0].RelevanceScore {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}

	// 別のlimitは別キー
	if _, err := svc.Recommend(ctx, "u1", 1); err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}
	if threads.candidateCalls != 2 {
		t.Errorf("candidate calls = %d, want 2", threads.candidateCalls)
	}

	if err := svc.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	if _, err := svc.Recommend(ctx, "u1", 5); err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}
	if threads.candidateCalls != 3 {
		t.Errorf("candidate calls = %d, want 3 after invalidation", threads.candidateCalls)
	}
}

func TestRecommend_CacheFailureFallsBackToCompute(t *testing.T) {
	svc, _ := newTestService(failingCache{}, &recordingMetrics{})

	got, err := svc.Recommend(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recommend returned error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestRecommend_InvalidLimit(t *testing.T) {
	svc, _ := newTestService(cache.NopCache{}, &recordingMetrics{})

	for _, limit := range []int{-1, MaxLimit + 1} {
		_, err := svc.Recommend(context.Background(), "u1", limit)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidLimit {
			t.Errorf("Recommend(limit=%d) error = %v, want INVALID_LIMIT", limit, err)
		}
	}
}

func TestRecommend_RepositoryErrorIsDatabaseError(t *testing.T) {
	svc, threads := newTestService(cache.NopCache{}, &recordingMetrics{})
	threads.listCandidatesFn = func(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error) {
		return nil, errors.New("connection reset")
	}

	_, err := svc.Recommend(context.Background(), "u1", 5)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDatabase {
		t.Errorf("error = %v, want DATABASE_ERROR", err)
	}
}

func TestInvalidate_PropagatesCacheError(t *testing.T) {
	svc, _ := newTestService(failingCache{}, &recordingMetrics{})
	if err := svc.Invalidate(context.Background(), "u1"); err == nil {
		t.Error("expected error from failing cache")
	}
}
