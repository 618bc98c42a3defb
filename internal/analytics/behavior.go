package analytics

import (
	"sort"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// UserBehavior はユーザー単位の行動分析結果。
type UserBehavior struct {
	UserID             string
	TotalActivities    int
	ByType             map[model.ActivityType]int
	ThreadsTouched     int
	AveragePerThread   float64
	MostActiveThreadID string
	PeakHour           int
	PeakDay            int
	ActiveDays         int
	ConsistencyScore   float64
	HealthStatus       HealthStatus
}

// AnalyzeUserBehavior はuserIDの記録のみを対象に行動を分析する。
// 他ユーザーの記録が混在していても無視する。記録がない場合はすべて0・中立値になる。
func (a *Aggregator) AnalyzeUserBehavior(userID string, records []model.ActivityRecord, w Window, r model.TimeRange) UserBehavior {
	own := make([]model.ActivityRecord, 0, len(records))
	byThread := make(map[string]int)
	for _, rec := range records {
		if rec.UserID != userID || !w.Contains(rec.Timestamp) {
			continue
		}
		own = append(own, rec)
		byThread[rec.ThreadID]++
	}

	s := a.Aggregate(own, w)

	return UserBehavior{
		UserID:             userID,
		TotalActivities:    s.TotalActivities,
		ByType:             s.ByType,
		ThreadsTouched:     len(byThread),
		AveragePerThread:   ratio(s.TotalActivities, len(byThread)),
		MostActiveThreadID: mostActive(byThread),
		PeakHour:           s.PeakHour,
		PeakDay:            s.PeakDay,
		ActiveDays:         s.ActiveDays,
		ConsistencyScore:   ConsistencyScore(s.ActiveDays, r),
		HealthStatus:       Health(s),
	}
}

// mostActive は件数が最大のキーを返す。同数の場合はキーの昇順で先頭を返す。
func mostActive(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	bestCount := 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}

// ThreadActivity はスレッドとその時間窓内の記録の組。
type ThreadActivity struct {
	ThreadID string
	Title    string
	Records  []model.ActivityRecord
}

// OrganizedThread は整理結果の1スレッド。
type OrganizedThread struct {
	ThreadID        string
	Title           string
	TotalActivities int
	EngagementRate  float64
	Priority        float64
	HealthStatus    HealthStatus
}

// ThreadGroup は健全性ごとにまとめたスレッド群。
type ThreadGroup struct {
	Status  HealthStatus
	Threads []OrganizedThread
}

// Organize はスレッドを健全性でグループ化し、各グループを優先度の降順に並べる。
// 優先度が同じ場合はスレッドIDの昇順。グループは常にHealthStatusesの順で4つ返す。
func (a *Aggregator) Organize(threads []ThreadActivity, r model.TimeRange, now time.Time) []ThreadGroup {
	w := LastDays(now, r.Days())
	grouped := make(map[HealthStatus][]OrganizedThread)
	for _, t := range threads {
		s := a.Aggregate(t.Records, w)
		status := Health(s)
		grouped[status] = append(grouped[status], OrganizedThread{
			ThreadID:        t.ThreadID,
			Title:           t.Title,
			TotalActivities: s.TotalActivities,
			EngagementRate:  EngagementRate(s),
			Priority:        PriorityScore(s, r, now),
			HealthStatus:    status,
		})
	}

	groups := make([]ThreadGroup, 0, len(HealthStatuses))
	for _, status := range HealthStatuses {
		list := grouped[status]
		if list == nil {
			list = []OrganizedThread{}
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return list[i].ThreadID < list[j].ThreadID
		})
		groups = append(groups, ThreadGroup{Status: status, Threads: list})
	}
	return groups
}
