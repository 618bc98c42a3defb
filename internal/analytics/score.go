package analytics

import (
	"math"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// HealthStatus はスレッドの健全性を4値で分類したもの。
// 呼び出しのたびに集計結果から再計算され、状態遷移は持たない。
type HealthStatus string

const (
	HealthHealthy        HealthStatus = "healthy"
	HealthModerate       HealthStatus = "moderate"
	HealthNeedsAttention HealthStatus = "needs_attention"
	HealthInactive       HealthStatus = "inactive"
)

// HealthStatuses は表示順に並べた全ステータス。
var HealthStatuses = []HealthStatus{
	HealthHealthy,
	HealthModerate,
	HealthNeedsAttention,
	HealthInactive,
}

// activityBaseline は期間ごとのアクティビティ数の基準値。ActivityScoreで100点に相当する。
var activityBaseline = map[model.TimeRange]float64{
	model.TimeRangeDay:   50,
	model.TimeRangeWeek:  350,
	model.TimeRangeMonth: 1500,
}

// ratio はn/dを返す。dが0の場合は0を返す。
func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// clamp はvを[lo, hi]に収める。NaNはloとして扱う。
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EngagementRate はユニーク参加者数/総アクティビティ数をパーセントで返す。範囲は[0,100]。
// 総アクティビティ数が0の場合は0。
func EngagementRate(s ActivitySummary) float64 {
	return clamp(ratio(s.UniqueParticipants, s.TotalActivities)*100, 0, 100)
}

// ActivityPerParticipant は参加者1人あたりのアクティビティ数を返す。範囲は[0,∞)。
func ActivityPerParticipant(s ActivitySummary) float64 {
	return ratio(s.TotalActivities, s.UniqueParticipants)
}

// ReactionRatio はメッセージ1件あたりのリアクション数を返す。範囲は[0,∞)。
func ReactionRatio(s ActivitySummary) float64 {
	return ratio(s.ReactionCount, s.MessageCount)
}

// EditRatio はメッセージ1件あたりの編集数を返す。範囲は[0,∞)。
func EditRatio(s ActivitySummary) float64 {
	return ratio(s.EditCount, s.MessageCount)
}

// ActivityScore は期間の基準値に対するアクティビティ量を返す。範囲は[0,100]。
func ActivityScore(count int, r model.TimeRange) float64 {
	baseline, ok := activityBaseline[r]
	if !ok {
		baseline = activityBaseline[model.TimeRangeWeek]
	}
	return clamp(float64(count)/baseline*100, 0, 100)
}

// ContentQualityScore はリアクション率と編集率の平均を返す。範囲は[0,100]。
func ContentQualityScore(messages, reactions, edits int) float64 {
	avg := (ratio(reactions, messages) + ratio(edits, messages)) / 2
	return clamp(avg*100, 0, 100)
}

// ConsistencyScore は期間の日数に対するアクティブ日数の割合を返す。範囲は[0,100]。
func ConsistencyScore(activeDays int, r model.TimeRange) float64 {
	return clamp(ratio(activeDays, r.Days())*100, 0, 100)
}

// Health は集計結果から健全性を判定する。
//
//	inactive:        総アクティビティ数が0
//	healthy:         参加者あたり5件以上 かつ リアクション率0.5以上
//	moderate:        参加者あたり2件以上 かつ リアクション率0.2以上
//	needs_attention: 参加者あたり1件以上
func Health(s ActivitySummary) HealthStatus {
	if s.TotalActivities == 0 {
		return HealthInactive
	}
	perParticipant := ActivityPerParticipant(s)
	reactions := ReactionRatio(s)

	switch {
	case perParticipant >= 5 && reactions >= 0.5:
		return HealthHealthy
	case perParticipant >= 2 && reactions >= 0.2:
		return HealthModerate
	case perParticipant >= 1:
		return HealthNeedsAttention
	default:
		return HealthInactive
	}
}

// RecencyScore は最終アクティビティからの経過時間を期間の長さに対して線形に減衰させる。
// 範囲は[0,100]。最終アクティビティがない場合は0。
func RecencyScore(last *time.Time, r model.TimeRange, now time.Time) float64 {
	if last == nil {
		return 0
	}
	elapsed := now.Sub(*last)
	if elapsed <= 0 {
		return 100
	}
	return clamp((1-elapsed.Seconds()/r.Duration().Seconds())*100, 0, 100)
}

// PriorityScore はスレッド整理時の優先度を返す。範囲は[0,100]。
// 0.5*ActivityScore + 0.3*EngagementRate + 0.2*RecencyScore。
func PriorityScore(s ActivitySummary, r model.TimeRange, now time.Time) float64 {
	score := 0.5*ActivityScore(s.TotalActivities, r) +
		0.3*EngagementRate(s) +
		0.2*RecencyScore(s.LastActivity, r, now)
	return clamp(score, 0, 100)
}

// EngagementMetrics はスレッドのエンゲージメント指標一式。
type EngagementMetrics struct {
	TimeRange              model.TimeRange
	TotalActivities        int
	UniqueParticipants     int
	MessageCount           int
	ReactionCount          int
	EditCount              int
	ActivityPerParticipant float64
	EngagementRate         float64
	ReactionRatio          float64
	EditRatio              float64
	ActivityScore          float64
	ContentQualityScore    float64
	ConsistencyScore       float64
	HealthStatus           HealthStatus
}

// Engagement は集計結果からエンゲージメント指標一式を算出する。
func Engagement(s ActivitySummary, r model.TimeRange) EngagementMetrics {
	return EngagementMetrics{
		TimeRange:              r,
		TotalActivities:        s.TotalActivities,
		UniqueParticipants:     s.UniqueParticipants,
		MessageCount:           s.MessageCount,
		ReactionCount:          s.ReactionCount,
		EditCount:              s.EditCount,
		ActivityPerParticipant: ActivityPerParticipant(s),
		EngagementRate:         EngagementRate(s),
		ReactionRatio:          ReactionRatio(s),
		EditRatio:              EditRatio(s),
		ActivityScore:          ActivityScore(s.TotalActivities, r),
		ContentQualityScore:    ContentQualityScore(s.MessageCount, s.ReactionCount, s.EditCount),
		ConsistencyScore:       ConsistencyScore(s.ActiveDays, r),
		HealthStatus:           Health(s),
	}
}
