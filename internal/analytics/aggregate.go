// Package analytics はアクティビティ記録の集計・スコアリング・時間バケット化を提供する。
//
// すべての関数は取得済みのスナップショット（[]model.ActivityRecord）に対する純粋関数であり、
// ストアへのアクセスや共有状態を持たない。空入力やゼロ除算になる入力に対しては
// NaNやInfを返さず、0または定義済みの中立値を返す。
package analytics

import (
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// Window は集計対象の時間窓 [Start, End) を表す。
// ゼロ値のStart/Endはその側の境界なしを意味する。
type Window struct {
	Start time.Time
	End   time.Time
}

// LastDays はnowから遡ってdays日分の時間窓を返す。終端は開いたままにする。
func LastDays(now time.Time, days int) Window {
	return Window{Start: now.Add(-time.Duration(days) * 24 * time.Hour)}
}

// Contains はtが時間窓に含まれるかどうかを返す。
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// ActivitySummary はアクティビティ記録の集計結果。
type ActivitySummary struct {
	TotalActivities    int
	UniqueParticipants int
	ByType             map[model.ActivityType]int
	ByUser             map[string]int
	HourlyDistribution [24]int
	DailyDistribution  [7]int // 0 = 日曜日
	MessageCount       int
	ReactionCount      int
	EditCount          int
	ActiveDays         int
	PeakHour           int // 記録がない場合は -1
	PeakDay            int // 記録がない場合は -1
	FirstActivity      *time.Time
	LastActivity       *time.Time
}

// Aggregator はアクティビティ記録を種別・ユーザー・時間帯で集計する。
// 時間帯・曜日の判定はlocのローカル時刻で行う。
type Aggregator struct {
	loc *time.Location
}

// NewAggregator はAggregatorを生成する。locがnilの場合はサーバーのローカル時刻を使用する。
func NewAggregator(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{loc: loc}
}

// Location は集計に使用するタイムゾーンを返す。
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Aggregate は時間窓に含まれる記録を集計する。
// TotalActivitiesは時間窓内の記録数と一致し、ByTypeの合計は常にTotalActivitiesに等しい。
func (a *Aggregator) Aggregate(records []model.ActivityRecord, w Window) ActivitySummary {
	s := ActivitySummary{
		ByType:   make(map[model.ActivityType]int),
		ByUser:   make(map[string]int),
		PeakHour: -1,
		PeakDay:  -1,
	}

	days := make(map[string]struct{})
	for _, r := range records {
		if !w.Contains(r.Timestamp) {
			continue
		}
		s.TotalActivities++

		typ := model.NormalizeActivityType(string(r.Type))
		s.ByType[typ]++
		s.ByUser[r.UserID]++

		switch typ {
		case model.ActivityMessageCreated:
			s.MessageCount++
		case model.ActivityReactionAdded:
			s.ReactionCount++
		case model.ActivityContentEdited:
			s.EditCount++
		}

		local := r.Timestamp.In(a.loc)
		s.HourlyDistribution[local.Hour()]++
		s.DailyDistribution[int(local.Weekday())]++
		days[local.Format(dayKeyLayout)] = struct{}{}

		ts := r.Timestamp
		if s.FirstActivity == nil || ts.Before(*s.FirstActivity) {
			s.FirstActivity = &ts
		}
		if s.LastActivity == nil || ts.After(*s.LastActivity) {
			last := ts
			s.LastActivity = &last
		}
	}

	s.UniqueParticipants = len(s.ByUser)
	s.ActiveDays = len(days)
	if s.TotalActivities > 0 {
		s.PeakHour = argmax(s.HourlyDistribution[:])
		s.PeakDay = argmax(s.DailyDistribution[:])
	}

	return s
}

// argmax は最大値のインデックスを返す。同値の場合は小さいインデックスを優先する。
func argmax(counts []int) int {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best
}
