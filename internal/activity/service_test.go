package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/model"
)

// --- モック ---

type mockThreadRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.Thread, error)
	listByParticipantFn func(ctx context.Context, userID string) ([]*model.Thread, error)
}

func (m *mockThreadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Thread{ID: id, Title: "thread " + id}, nil
}
func (m *mockThreadRepo) ListByParticipant(ctx context.Context, userID string) ([]*model.Thread, error) {
	if m.listByParticipantFn != nil {
		return m.listByParticipantFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockThreadRepo) ListCandidatesForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error) {
	return nil, nil
}
func (m *mockThreadRepo) ListCollaborators(ctx context.Context, userID string, since time.Time) ([]string, error) {
	return nil, nil
}
func (m *mockThreadRepo) SearchByTitle(ctx context.Context, query string, limit int) ([]model.ThreadSearchResult, error) {
	return nil, nil
}

type mockActivityRepo struct {
	createFn        func(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error
	listByThreadFn  func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error)
	listByUserFn    func(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error)
	listByThreadsFn func(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error)
	listExportFn    func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityExportRow, error)
	created         []*model.ActivityRecord
	deltas          []model.CounterDelta
}

func (m *mockActivityRepo) Create(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error {
	m.created = append(m.created, record)
	m.deltas = append(m.deltas, delta)
	if m.createFn != nil {
		return m.createFn(ctx, record, delta)
	}
	return nil
}
func (m *mockActivityRepo) ListByThread(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
	if m.listByThreadFn != nil {
		return m.listByThreadFn(ctx, threadID, since)
	}
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
	if m.listExportFn != nil {
		return m.listExportFn(ctx, threadID, since)
	}
	return nil, nil
}

type mockAnalyticsRepo struct {
	findFn func(ctx context.Context, threadID string) (*model.ThreadAnalytics, error)
}

func (m *mockAnalyticsRepo) FindByThread(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
	if m.findFn != nil {
		return m.findFn(ctx, threadID)
	}
	return nil, nil
}

type mockInvalidator struct {
	err   error
	users []string
}

func (m *mockInvalidator) Invalidate(ctx context.Context, userID string) error {
	m.users = append(m.users, userID)
	return m.err
}

type recordingMetrics struct {
	activities []string
	exports    []string
	durations  []string
}

func (m *recordingMetrics) RecordActivity(t string) { m.activities = append(m.activities, t) }
func (m *recordingMetrics) RecordAnalyticsDuration(op string, _ time.Duration) {
	m.durations = append(m.durations, op)
}
func (m *recordingMetrics) RecordCacheHit(string)              {}
func (m *recordingMetrics) RecordCacheMiss(string)             {}
func (m *recordingMetrics) RecordExport(f string)              { m.exports = append(m.exports, f) }
func (m *recordingMetrics) RecordSearch(int)                   {}
func (m *recordingMetrics) RecordCleanupDeleted(string, int64) {}
func (m *recordingMetrics) RecordHTTPStatus(int)               {}

// --- ヘルパー ---

// fixedNow は2024-01-07(日) 12:00 UTC。
var fixedNow = time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc         *Service
	threads     *mockThreadRepo
	activities  *mockActivityRepo
	counters    *mockAnalyticsRepo
	invalidator *mockInvalidator
	metrics     *recordingMetrics
}

func newFixture() *fixture {
	f := &fixture{
		threads:     &mockThreadRepo{},
		activities:  &mockActivityRepo{},
		counters:    &mockAnalyticsRepo{},
		invalidator: &mockInvalidator{},
		metrics:     &recordingMetrics{},
	}
	f.svc = NewService(f.threads, f.activities, f.counters, f.invalidator, nil, analytics.NewAggregator(time.UTC), f.metrics, nil)
	f.svc.now = func() time.Time { return fixedNow }
	f.svc.newID = func() string { return "activity-1" }
	return f
}

func rec(threadID, userID string, typ model.ActivityType, ts time.Time) model.ActivityRecord {
	return model.ActivityRecord{ID: ts.String(), ThreadID: threadID, UserID: userID, Type: typ, Timestamp: ts}
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- RecordActivity ---

func TestRecordActivity_Success(t *testing.T) {
	f := newFixture()

	got, err := f.svc.RecordActivity(context.Background(), "u1", "t1", "REACTION_ADDED", map[string]any{"emoji": "+1"})
	if err != nil {
		t.Fatalf("RecordActivity returned error: %v", err)
	}

	if got.ID != "activity-1" || got.Type != model.ActivityReactionAdded || !got.Timestamp.Equal(fixedNow) {
		t.Errorf("record = %+v", got)
	}
	if len(f.activities.created) != 1 {
		t.Fatalf("created = %d, want 1", len(f.activities.created))
	}
	if len(f.activities.deltas) != 1 || f.activities.deltas[0] != (model.CounterDelta{Reactions: 1}) {
		t.Errorf("deltas = %+v, want one reaction", f.activities.deltas)
	}
	if len(f.invalidator.users) != 1 || f.invalidator.users[0] != "u1" {
		t.Errorf("invalidated users = %v, want [u1]", f.invalidator.users)
	}
	if len(f.metrics.activities) != 1 || f.metrics.activities[0] != "reaction_added" {
		t.Errorf("activity metrics = %v", f.metrics.activities)
	}
}

func TestRecordActivity_NilMetadataBecomesEmpty(t *testing.T) {
	f := newFixture()

	got, err := f.svc.RecordActivity(context.Background(), "u1", "t1", "view", nil)
	if err != nil {
		t.Fatalf("RecordActivity returned error: %v", err)
	}
	if got.Metadata == nil {
		t.Error("Metadata should be non-nil")
	}
}

func TestRecordActivity_InvalidType(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RecordActivity(context.Background(), "u1", "t1", "shared", nil)

	assertAPIError(t, err, model.ErrCodeInvalidActivityType)
	if len(f.activities.created) != 0 {
		t.Error("invalid type should not be stored")
	}
}

func TestRecordActivity_ThreadNotFound(t *testing.T) {
	f := newFixture()
	f.threads.findByIDFn = func(ctx context.Context, id string) (*model.Thread, error) { return nil, nil }

	_, err := f.svc.RecordActivity(context.Background(), "u1", "missing", "view", nil)

	assertAPIError(t, err, model.ErrCodeThreadNotFound)
	if len(f.activities.created) != 0 {
		t.Error("activity should not be stored for missing thread")
	}
}

func TestRecordActivity_StoreFailureIsDatabaseError(t *testing.T) {
	f := newFixture()
	f.activities.createFn = func(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error {
		return errors.New("counter update failed")
	}

	_, err := f.svc.RecordActivity(context.Background(), "u1", "t1", "view", nil)

	assertAPIError(t, err, model.ErrCodeDatabase)
	if len(f.invalidator.users) != 0 {
		t.Errorf("failed record should not invalidate cache, got %v", f.invalidator.users)
	}
	if len(f.metrics.activities) != 0 {
		t.Errorf("failed record should not be counted, got %v", f.metrics.activities)
	}
}

func TestRecordActivity_InvalidationFailureIsIgnored(t *testing.T) {
	f := newFixture()
	f.invalidator.err = errors.New("redis down")

	if _, err := f.svc.RecordActivity(context.Background(), "u1", "t1", "comment", nil); err != nil {
		t.Fatalf("RecordActivity returned error: %v", err)
	}
	if f.activities.deltas[0] != (model.CounterDelta{Replies: 1}) {
		t.Errorf("delta = %+v, want one reply", f.activities.deltas[0])
	}
}

// --- GetSummary ---

func TestGetSummary_RejectsOutOfRangeDays(t *testing.T) {
	f := newFixture()
	for _, days := range []int{0, 400} {
		_, err := f.svc.GetSummary(context.Background(), "t1", days)
		assertAPIError(t, err, model.ErrCodeInvalidDays)
	}
}

func TestGetSummary_AggregatesWindow(t *testing.T) {
	f := newFixture()
	var gotSince time.Time
	f.activities.listByThreadFn = func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
		gotSince = since
		return []model.ActivityRecord{
			rec("t1", "u1", model.ActivityMessageCreated, fixedNow.Add(-2*time.Hour)),
			rec("t1", "u2", model.ActivityReactionAdded, fixedNow.Add(-time.Hour)),
			rec("t1", "u2", model.ActivityView, fixedNow.Add(-time.Hour)),
		}, nil
	}

	got, err := f.svc.GetSummary(context.Background(), "t1", 7)
	if err != nil {
		t.Fatalf("GetSummary returned error: %v", err)
	}

	if want := fixedNow.Add(-7 * 24 * time.Hour); !gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", gotSince, want)
	}
	if got.TotalActivities != 3 || got.UniqueParticipants != 2 || got.Days != 7 {
		t.Errorf("summary = %+v", got)
	}
	if got.PeakDay != 0 {
		t.Errorf("PeakDay = %d, want 0 (Sunday)", got.PeakDay)
	}
}

func TestGetSummary_ThreadNotFound(t *testing.T) {
	f := newFixture()
	f.threads.findByIDFn = func(ctx context.Context, id string) (*model.Thread, error) { return nil, nil }

	_, err := f.svc.GetSummary(context.Background(), "missing", 7)

	assertAPIError(t, err, model.ErrCodeThreadNotFound)
}

// --- GetEngagement ---

func TestGetEngagement(t *testing.T) {
	f := newFixture()
	f.activities.listByThreadFn = func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
		return []model.ActivityRecord{
			rec("t1", "u1", model.ActivityMessageCreated, fixedNow.Add(-time.Hour)),
			rec("t1", "u1", model.ActivityMessageCreated, fixedNow.Add(-time.Hour)),
			rec("t1", "u2", model.ActivityReactionAdded, fixedNow.Add(-time.Hour)),
			rec("t1", "u2", model.ActivityReactionAdded, fixedNow.Add(-time.Hour)),
		}, nil
	}

	t.Run("不正なトークンはValidationエラー", func(t *testing.T) {
		_, err := f.svc.GetEngagement(context.Background(), "t1", "year")
		assertAPIError(t, err, model.ErrCodeInvalidTimeRange)
	})

	t.Run("週の指標を返す", func(t *testing.T) {
		got, err := f.svc.GetEngagement(context.Background(), "t1", "week")
		if err != nil {
			t.Fatalf("GetEngagement returned error: %v", err)
		}
		if got.TimeRange != model.TimeRangeWeek || got.EngagementRate != 50 {
			t.Errorf("metrics = %+v, want week with engagement 50", got)
		}
	})
}

// --- GetHeatmap / GetTimeline ---

func TestGetHeatmap_SumEqualsRecords(t *testing.T) {
	f := newFixture()
	f.activities.listByThreadFn = func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
		return []model.ActivityRecord{
			rec("t1", "u1", model.ActivityView, fixedNow.Add(-time.Hour)),
			rec("t1", "u1", model.ActivityView, fixedNow.Add(-25*time.Hour)),
		}, nil
	}

	h, err := f.svc.GetHeatmap(context.Background(), "t1", 7)
	if err != nil {
		t.Fatalf("GetHeatmap returned error: %v", err)
	}
	if h.Total != 2 || h.Cells[0][11] != 1 || h.Cells[6][11] != 1 {
		t.Errorf("heatmap total=%d sun11=%d sat11=%d", h.Total, h.Cells[0][11], h.Cells[6][11])
	}
}

func TestGetTimeline(t *testing.T) {
	f := newFixture()
	f.activities.listByThreadFn = func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
		return []model.ActivityRecord{
			rec("t1", "u1", model.ActivityView, fixedNow.Add(-time.Hour)),
			rec("t1", "u1", model.ActivityView, fixedNow.Add(-49*time.Hour)),
		}, nil
	}

	t.Run("不正な粒度はValidationエラー", func(t *testing.T) {
		_, err := f.svc.GetTimeline(context.Background(), "t1", "week", 7)
		assertAPIError(t, err, model.ErrCodeInvalidGranularity)
	})

	t.Run("日単位で欠損なく返す", func(t *testing.T) {
		tl, err := f.svc.GetTimeline(context.Background(), "t1", "day", 3)
		if err != nil {
			t.Fatalf("GetTimeline returned error: %v", err)
		}
		if len(tl.Buckets) != 4 {
			t.Fatalf("len(Buckets) = %d, want 4", len(tl.Buckets))
		}
		if tl.Buckets[0].Key != "2024-01-04" || tl.Buckets[3].Key != "2024-01-07" {
			t.Errorf("keys = %s..%s", tl.Buckets[0].Key, tl.Buckets[3].Key)
		}
		sum := 0
		for _, b := range tl.Buckets {
			sum += b.Count
		}
		if sum != 2 {
			t.Errorf("sum = %d, want 2", sum)
		}
	})
}

// --- GetThreadAnalytics ---

func TestGetThreadAnalytics_ZeroWhenMissing(t *testing.T) {
	f := newFixture()

	got, err := f.svc.GetThreadAnalytics(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetThreadAnalytics returned error: %v", err)
	}
	if got.ThreadID != "t1" || got.ViewCount != 0 || got.LastActivity != nil {
		t.Errorf("counters = %+v, want zero counters", got)
	}
}

func TestGetThreadAnalytics_StoreFailure(t *testing.T) {
	f := newFixture()
	f.counters.findFn = func(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
		return nil, errors.New("timeout")
	}

	_, err := f.svc.GetThreadAnalytics(context.Background(), "t1")

	assertAPIError(t, err, model.ErrCodeDatabase)
}

// --- AnalyzeUserBehavior / OrganizeThreads ---

func TestAnalyzeUserBehavior(t *testing.T) {
	f := newFixture()
	f.activities.listByUserFn = func(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error) {
		return []model.ActivityRecord{
			rec("t1", userID, model.ActivityMessageCreated, fixedNow.Add(-time.Hour)),
			rec("t2", userID, model.ActivityMessageCreated, fixedNow.Add(-2*time.Hour)),
			rec("t2", userID, model.ActivityView, fixedNow.Add(-3*time.Hour)),
		}, nil
	}

	got, err := f.svc.AnalyzeUserBehavior(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("AnalyzeUserBehavior returned error: %v", err)
	}
	if got.TotalActivities != 3 || got.ThreadsTouched != 2 || got.MostActiveThreadID != "t2" {
		t.Errorf("behavior = %+v", got)
	}
}

func TestOrganizeThreads(t *testing.T) {
	f := newFixture()
	f.threads.listByParticipantFn = func(ctx context.Context, userID string) ([]*model.Thread, error) {
		return []*model.Thread{{ID: "t1", Title: "active"}, {ID: "t2", Title: "silent"}}, nil
	}
	f.activities.listByThreadsFn = func(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error) {
		if len(threadIDs) != 2 {
			t.Errorf("threadIDs = %v, want 2 ids", threadIDs)
		}
		return []model.ActivityRecord{
			rec("t1", "u1", model.ActivityView, fixedNow.Add(-time.Hour)),
		}, nil
	}

	groups, err := f.svc.OrganizeThreads(context.Background(), "u1", "week")
	if err != nil {
		t.Fatalf("OrganizeThreads returned error: %v", err)
	}
	if len(groups) != len(analytics.HealthStatuses) {
		t.Fatalf("len(groups) = %d, want %d", len(groups), len(analytics.HealthStatuses))
	}
	inactive := groups[len(groups)-1]
	if inactive.Status != analytics.HealthInactive || len(inactive.Threads) != 1 || inactive.Threads[0].ThreadID != "t2" {
		t.Errorf("inactive group = %+v, want t2", inactive)
	}
}

// --- Export ---

func TestExport_CSV(t *testing.T) {
	f := newFixture()
	f.activities.listExportFn = func(ctx context.Context, threadID string, since time.Time) ([]model.ActivityExportRow, error) {
		return []model.ActivityExportRow{{
			CreatedAt:   fixedNow,
			Type:        model.ActivityComment,
			ThreadTitle: "Launch",
			UserName:    "Alice",
			UserEmail:   "alice@example.com",
			Metadata:    map[string]any{"text": "<b>hi</b>"},
		}}, nil
	}

	got, err := f.svc.Export(context.Background(), "t1", 30, "CSV")
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if got.Filename != "thread-t1-activity.csv" {
		t.Errorf("Filename = %q", got.Filename)
	}
	if !strings.HasPrefix(got.ContentType, "text/csv") {
		t.Errorf("ContentType = %q", got.ContentType)
	}
	body := string(got.Data)
	if !strings.Contains(body, "2024-01-07T12:00:00Z,comment,Launch,Alice,alice@example.com") {
		t.Errorf("csv body = %q", body)
	}
	if strings.Contains(body, "<b>") {
		t.Errorf("csv body should not contain HTML: %q", body)
	}
	if len(f.metrics.exports) != 1 || f.metrics.exports[0] != "csv" {
		t.Errorf("export metrics = %v", f.metrics.exports)
	}
}

func TestExport_FilenameHasSingleExtension(t *testing.T) {
	for _, format := range []string{"csv", "json", "pdf"} {
		t.Run(format, func(t *testing.T) {
			f := newFixture()
			got, err := f.svc.Export(context.Background(), "t1", 30, format)
			if err != nil {
				t.Fatalf("Export returned error: %v", err)
			}
			want := "thread-t1-activity." + format
			if got.Filename != want {
				t.Errorf("Filename = %q, want %q", got.Filename, want)
			}
		})
	}
}

func TestExport_UnsupportedFormatCheckedFirst(t *testing.T) {
	f := newFixture()
	called := false
	f.threads.findByIDFn = func(ctx context.Context, id string) (*model.Thread, error) {
		called = true
		return nil, nil
	}

	_, err := f.svc.Export(context.Background(), "t1", 30, "xml")

	assertAPIError(t, err, model.ErrCodeUnsupportedExportFormat)
	if called {
		t.Error("thread lookup should not run for unsupported format")
	}
}
