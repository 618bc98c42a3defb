package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/threadpulse/internal/activity"
	"github.com/hitoshi/threadpulse/internal/analytics"
	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/recommend"
	"github.com/hitoshi/threadpulse/internal/search"
)

// DefaultDays はdaysパラメータが省略された場合の日数。
const DefaultDays = 30

// writeJSON はステータスコードとともにJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// threadIDParam はURLパスのスレッドIDを取得する。
// UUIDとして不正なIDは存在しないスレッドとして扱う。
func threadIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", model.NewThreadNotFoundError(id)
	}
	return id, nil
}

// savedSearchIDParam はURLパスの保存検索IDを取得する。
// UUIDとして不正なIDは存在しない保存検索として扱う。
func savedSearchIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", model.NewSavedSearchNotFoundError(id)
	}
	return id, nil
}

// daysParam はdaysクエリパラメータを取得する。省略時はDefaultDaysを返す。
// 範囲の検証はサービス層で行う。
func daysParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return DefaultDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidDaysError(0)
	}
	return days, nil
}

// limitParam はlimitクエリパラメータを取得する。省略時は0を返し、既定値の決定はサービス層に任せる。
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidRequestError("limit must be an integer")
	}
	return limit, nil
}

// activityResponse は記録したアクティビティのAPIレスポンス。
type activityResponse struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

func toActivityResponse(rec *model.ActivityRecord) activityResponse {
	return activityResponse{
		ID:        rec.ID,
		ThreadID:  rec.ThreadID,
		UserID:    rec.UserID,
		Type:      string(rec.Type),
		Timestamp: rec.Timestamp,
		Metadata:  rec.Metadata,
	}
}

// summaryResponse はスレッド集計のAPIレスポンス。
type summaryResponse struct {
	ThreadID           string         `json:"threadId"`
	Days               int            `json:"days"`
	TotalActivities    int            `json:"totalActivities"`
	UniqueParticipants int            `json:"uniqueParticipants"`
	ByType             map[string]int `json:"byType"`
	ByUser             map[string]int `json:"byUser"`
	HourlyDistribution []int          `json:"hourlyDistribution"`
	DailyDistribution  []int          `json:"dailyDistribution"`
	MessageCount       int            `json:"messageCount"`
	ReactionCount      int            `json:"reactionCount"`
	EditCount          int            `json:"editCount"`
	ActiveDays         int            `json:"activeDays"`
	PeakHour           *int           `json:"peakHour"`
	PeakDay            *int           `json:"peakDay"`
	FirstActivity      *time.Time     `json:"firstActivity"`
	LastActivity       *time.Time     `json:"lastActivity"`
}

func toSummaryResponse(s *activity.Summary) summaryResponse {
	return summaryResponse{
		ThreadID:           s.ThreadID,
		Days:               s.Days,
		TotalActivities:    s.TotalActivities,
		UniqueParticipants: s.UniqueParticipants,
		ByType:             typeCounts(s.ByType),
		ByUser:             nonNilCounts(s.ByUser),
		HourlyDistribution: s.HourlyDistribution[:],
		DailyDistribution:  s.DailyDistribution[:],
		MessageCount:       s.MessageCount,
		ReactionCount:      s.ReactionCount,
		EditCount:          s.EditCount,
		ActiveDays:         s.ActiveDays,
		PeakHour:           peakIndex(s.PeakHour),
		PeakDay:            peakIndex(s.PeakDay),
		FirstActivity:      s.FirstActivity,
		LastActivity:       s.LastActivity,
	}
}

// engagementResponse はエンゲージメント指標のAPIレスポンス。
type engagementResponse struct {
	ThreadID               string  `json:"threadId"`
	TimeRange              string  `json:"timeRange"`
	TotalActivities        int     `json:"totalActivities"`
	UniqueParticipants     int     `json:"uniqueParticipants"`
	MessageCount           int     `json:"messageCount"`
	ReactionCount          int     `json:"reactionCount"`
	EditCount              int     `json:"editCount"`
	ActivityPerParticipant float64 `json:"activityPerParticipant"`
	EngagementRate         float64 `json:"engagementRate"`
	ReactionRatio          float64 `json:"reactionRatio"`
	EditRatio              float64 `json:"editRatio"`
	ActivityScore          float64 `json:"activityScore"`
	ContentQualityScore    float64 `json:"contentQualityScore"`
	ConsistencyScore       float64 `json:"consistencyScore"`
	HealthStatus           string  `json:"healthStatus"`
}

func toEngagementResponse(threadID string, m *analytics.EngagementMetrics) engagementResponse {
	return engagementResponse{
		ThreadID:               threadID,
		TimeRange:              string(m.TimeRange),
		TotalActivities:        m.TotalActivities,
		UniqueParticipants:     m.UniqueParticipants,
		MessageCount:           m.MessageCount,
		ReactionCount:          m.ReactionCount,
		EditCount:              m.EditCount,
		ActivityPerParticipant: m.ActivityPerParticipant,
		EngagementRate:         m.EngagementRate,
		ReactionRatio:          m.ReactionRatio,
		EditRatio:              m.EditRatio,
		ActivityScore:          m.ActivityScore,
		ContentQualityScore:    m.ContentQualityScore,
		ConsistencyScore:       m.ConsistencyScore,
		HealthStatus:           string(m.HealthStatus),
	}
}

// heatmapResponse はヒートマップのAPIレスポンス。cellsは[曜日(0=日曜)][時]。
type heatmapResponse struct {
	ThreadID string  `json:"threadId"`
	Days     int     `json:"days"`
	Cells    [][]int `json:"cells"`
	Total    int     `json:"total"`
	Max      int     `json:"max"`
	PeakDay  *int    `json:"peakDay"`
	PeakHour *int    `json:"peakHour"`
}

func toHeatmapResponse(threadID string, days int, h *analytics.Heatmap) heatmapResponse {
	cells := make([][]int, len(h.Cells))
	for day := range h.Cells {
		row := h.Cells[day]
		cells[day] = row[:]
	}
	return heatmapResponse{
		ThreadID: threadID,
		Days:     days,
		Cells:    cells,
		Total:    h.Total,
		Max:      h.Max,
		PeakDay:  peakIndex(h.PeakDay),
		PeakHour: peakIndex(h.PeakHour),
	}
}

type bucketResponse struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// timelineResponse は時系列のAPIレスポンス。
type timelineResponse struct {
	ThreadID    string           `json:"threadId"`
	Granularity string           `json:"granularity"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Buckets     []bucketResponse `json:"buckets"`
}

func toTimelineResponse(tl *activity.Timeline) timelineResponse {
	buckets := make([]bucketResponse, 0, len(tl.Buckets))
	for _, b := range tl.Buckets {
		buckets = append(buckets, bucketResponse{Key: b.Key, Start: b.Start, Count: b.Count})
	}
	return timelineResponse{
		ThreadID:    tl.ThreadID,
		Granularity: string(tl.Granularity),
		From:        tl.From,
		To:          tl.To,
		Buckets:     buckets,
	}
}

// threadAnalyticsResponse はスレッドカウンタのAPIレスポンス。
type threadAnalyticsResponse struct {
	ThreadID         string     `json:"threadId"`
	ViewCount        int        `json:"viewCount"`
	ReplyCount       int        `json:"replyCount"`
	ReactionCount    int        `json:"reactionCount"`
	ParticipantCount int        `json:"participantCount"`
	LastActivity     *time.Time `json:"lastActivity"`
}

func toThreadAnalyticsResponse(a *model.ThreadAnalytics) threadAnalyticsResponse {
	return threadAnalyticsResponse{
		ThreadID:         a.ThreadID,
		ViewCount:        a.ViewCount,
		ReplyCount:       a.ReplyCount,
		ReactionCount:    a.ReactionCount,
		ParticipantCount: a.ParticipantCount,
		LastActivity:     a.LastActivity,
	}
}

// behaviorResponse はユーザー行動分析のAPIレスポンス。
type behaviorResponse struct {
	UserID             string         `json:"userId"`
	TimeRange          string         `json:"timeRange"`
	TotalActivities    int            `json:"totalActivities"`
	ByType             map[string]int `json:"byType"`
	ThreadsTouched     int            `json:"threadsTouched"`
	AveragePerThread   float64        `json:"averagePerThread"`
	MostActiveThreadID *string        `json:"mostActiveThreadId"`
	PeakHour           *int           `json:"peakHour"`
	PeakDay            *int           `json:"peakDay"`
	ActiveDays         int            `json:"activeDays"`
	ConsistencyScore   float64        `json:"consistencyScore"`
	HealthStatus       string         `json:"healthStatus"`
}

func toBehaviorResponse(r model.TimeRange, b *analytics.UserBehavior) behaviorResponse {
	var mostActive *string
	if b.MostActiveThreadID != "" {
		id := b.MostActiveThreadID
		mostActive = &id
	}
	return behaviorResponse{
		UserID:             b.UserID,
		TimeRange:          string(r),
		TotalActivities:    b.TotalActivities,
		ByType:             typeCounts(b.ByType),
		ThreadsTouched:     b.ThreadsTouched,
		AveragePerThread:   b.AveragePerThread,
		MostActiveThreadID: mostActive,
		PeakHour:           peakIndex(b.PeakHour),
		PeakDay:            peakIndex(b.PeakDay),
		ActiveDays:         b.ActiveDays,
		ConsistencyScore:   b.ConsistencyScore,
		HealthStatus:       string(b.HealthStatus),
	}
}

type organizedThreadResponse struct {
	ThreadID        string  `json:"threadId"`
	Title           string  `json:"title"`
	TotalActivities int     `json:"totalActivities"`
	EngagementRate  float64 `json:"engagementRate"`
	Priority        float64 `json:"priority"`
	HealthStatus    string  `json:"healthStatus"`
}

type threadGroupResponse struct {
	Status  string                    `json:"status"`
	Threads []organizedThreadResponse `json:"threads"`
}

// organizationResponse はスレッド整理のAPIレスポンス。
type organizationResponse struct {
	TimeRange string                `json:"timeRange"`
	Groups    []threadGroupResponse `json:"groups"`
}

func toOrganizationResponse(r model.TimeRange, groups []analytics.ThreadGroup) organizationResponse {
	resp := organizationResponse{TimeRange: string(r), Groups: make([]threadGroupResponse, 0, len(groups))}
	for _, g := range groups {
		threads := make([]organizedThreadResponse, 0, len(g.Threads))
		for _, t := range g.Threads {
			threads = append(threads, organizedThreadResponse{
				ThreadID:        t.ThreadID,
				Title:           t.Title,
				TotalActivities: t.TotalActivities,
				EngagementRate:  t.EngagementRate,
				Priority:        t.Priority,
				HealthStatus:    string(t.HealthStatus),
			})
		}
		resp.Groups = append(resp.Groups, threadGroupResponse{Status: string(g.Status), Threads: threads})
	}
	return resp
}

type recommendationResponse struct {
	ThreadID            string  `json:"threadId"`
	Title               string  `json:"title"`
	CommonParticipants  float64 `json:"commonParticipants"`
	RecentActivityScore float64 `json:"recentActivityScore"`
	InterestMatch       float64 `json:"interestMatch"`
	RelevanceScore      float64 `json:"relevanceScore"`
	Reason              string  `json:"reason"`
}

// recommendationsResponse は推薦一覧のAPIレスポンス。
type recommendationsResponse struct {
	Recommendations []recommendationResponse `json:"recommendations"`
}

func toRecommendationsResponse(recs []recommend.Recommendation) recommendationsResponse {
	resp := recommendationsResponse{Recommendations: make([]recommendationResponse, 0, len(recs))}
	for _, r := range recs {
		resp.Recommendations = append(resp.Recommendations, recommendationResponse{
			ThreadID:            r.ThreadID,
			Title:               r.Title,
			CommonParticipants:  r.CommonParticipants,
			RecentActivityScore: r.RecentActivityScore,
			InterestMatch:       r.InterestMatch,
			RelevanceScore:      r.RelevanceScore,
			Reason:              r.Reason,
		})
	}
	return resp
}

type searchThreadResponse struct {
	ThreadID     string     `json:"threadId"`
	Title        string     `json:"title"`
	LastActivity *time.Time `json:"lastActivity"`
}

// searchResponse はスレッド検索のAPIレスポンス。
type searchResponse struct {
	Query   string                 `json:"query"`
	Threads []searchThreadResponse `json:"threads"`
}

func toSearchResponse(res *search.Result) searchResponse {
	resp := searchResponse{Query: res.Query, Threads: make([]searchThreadResponse, 0, len(res.Threads))}
	for _, t := range res.Threads {
		resp.Threads = append(resp.Threads, searchThreadResponse{
			ThreadID:     t.ThreadID,
			Title:        t.Title,
			LastActivity: t.LastActivity,
		})
	}
	return resp
}

type historyEntryResponse struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	ResultCount int       `json:"resultCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toHistoryResponse(entries []model.SearchHistoryEntry) []historyEntryResponse {
	resp := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntryResponse{
			ID:          e.ID,
			Query:       e.Query,
			ResultCount: e.ResultCount,
			CreatedAt:   e.CreatedAt,
		})
	}
	return resp
}

type savedSearchResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"createdAt"`
}

func toSavedSearchResponse(s *model.SavedSearch) savedSearchResponse {
	return savedSearchResponse{ID: s.ID, Name: s.Name, Query: s.Query, CreatedAt: s.CreatedAt}
}

func toSavedSearchesResponse(searches []model.SavedSearch) []savedSearchResponse {
	resp := make([]savedSearchResponse, 0, len(searches))
	for i := range searches {
		resp = append(resp, toSavedSearchResponse(&searches[i]))
	}
	return resp
}

type popularQueryResponse struct {
	Query          string  `json:"query"`
	Count          int     `json:"count"`
	AverageResults float64 `json:"averageResults"`
}

func toPopularResponse(queries []search.PopularQuery) []popularQueryResponse {
	resp := make([]popularQueryResponse, 0, len(queries))
	for _, q := range queries {
		resp = append(resp, popularQueryResponse{Query: q.Query, Count: q.Count, AverageResults: q.AverageResults})
	}
	return resp
}

// peakIndex は記録がないことを示す-1をnullに変換する。
func peakIndex(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}

func typeCounts(m map[model.ActivityType]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
