// Package recommend はユーザーへのスレッド推薦を提供する。
//
// Rankerは取得済みのスナップショットに対する純粋な計算のみを行い、
// Serviceがリポジトリからのスナップショット取得とキャッシュを担当する。
package recommend

import (
	"sort"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

const (
	// DefaultLimit は件数未指定時の推薦件数。
	DefaultLimit = 5
	// MaxLimit は推薦件数の上限。
	MaxLimit = 50

	// UserHistoryWindow はユーザーの興味を判定する対象期間。
	UserHistoryWindow = 30 * 24 * time.Hour
	// RecentWindow は候補スレッドの最近の活発さを判定する対象期間。
	RecentWindow = 7 * 24 * time.Hour
	// recentActivityNormalizer はRecentWindow内の件数をスコア1.0に対応させる件数。
	recentActivityNormalizer = 10
)

// 推薦理由の文言
const (
	ReasonHigh   = "Active discussion among people you collaborate with"
	ReasonMedium = "Matches the kinds of activity you usually take part in"
	ReasonLow    = "Recently active discussion you have not joined yet"
)

// Weights は関連度スコアの各要素の重み。
type Weights struct {
	CommonParticipants float64
	RecentActivity     float64
	InterestMatch      float64
}

// Thresholds は推薦理由を選ぶ関連度スコアのしきい値。
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultWeights は既定の重み。
var DefaultWeights = Weights{CommonParticipants: 0.3, RecentActivity: 0.3, InterestMatch: 0.4}

// DefaultThresholds は既定のしきい値。
var DefaultThresholds = Thresholds{High: 0.7, Medium: 0.4}

// Candidate は推薦候補のスレッドとその記録。
type Candidate struct {
	ThreadID string
	Title    string
	Records  []model.ActivityRecord
}

// Input はランキングに必要なスナップショット。
type Input struct {
	UserID string
	// UserRecords はユーザー自身の直近30日の記録。
	UserRecords []model.ActivityRecord
	// Collaborators はユーザーが活動したスレッドで活動している他ユーザーのID。
	Collaborators []string
	Candidates    []Candidate
	Now           time.Time
}

// Recommendation は推薦1件とその内訳。スコアはすべて[0,1]。
type Recommendation struct {
	ThreadID            string
	Title               string
	CommonParticipants  float64
	RecentActivityScore float64
	InterestMatch       float64
	RelevanceScore      float64
	Reason              string
}

// Ranker は候補スレッドを関連度でランク付けする。
type Ranker struct {
	weights    Weights
	thresholds Thresholds
}

// NewRanker はRankerを生成する。
func NewRanker(weights Weights, thresholds Thresholds) *Ranker {
	return &Ranker{weights: weights, thresholds: thresholds}
}

// Rank は候補を関連度の降順に並べ、上位limit件を返す。
// 関連度が同じ場合はスレッドIDの昇順。ユーザー自身が活動している候補は除外する。
func (r *Ranker) Rank(in Input, limit int) []Recommendation {
	if limit <= 0 {
		limit = DefaultLimit
	}

	collaborators := make(map[string]struct{}, len(in.Collaborators))
	for _, id := range in.Collaborators {
		if id != in.UserID {
			collaborators[id] = struct{}{}
		}
	}

	interests := make(map[model.ActivityType]struct{})
	for _, rec := range in.UserRecords {
		interests[model.NormalizeActivityType(string(rec.Type))] = struct{}{}
	}

	results := make([]Recommendation, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		rec, ok := r.score(c, in, collaborators, interests)
		if !ok {
			continue
		}
		results = append(results, rec)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ThreadID < results[j].ThreadID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (r *Ranker) score(
	c Candidate,
	in Input,
	collaborators map[string]struct{},
	interests map[model.ActivityType]struct{},
) (Recommendation, bool) {
	active := make(map[string]struct{})
	types := make(map[model.ActivityType]struct{})
	recent := 0
	recentSince := in.Now.Add(-RecentWindow)

	for _, rec := range c.Records {
		if rec.UserID == in.UserID {
			return Recommendation{}, false
		}
		active[rec.UserID] = struct{}{}
		types[model.NormalizeActivityType(string(rec.Type))] = struct{}{}
		if !rec.Timestamp.Before(recentSince) && !rec.Timestamp.After(in.Now) {
			recent++
		}
	}

	common := 0
	for id := range active {
		if _, ok := collaborators[id]; ok {
			common++
		}
	}
	matched := 0
	for t := range interests {
		if _, ok := types[t]; ok {
			matched++
		}
	}

	out := Recommendation{
		ThreadID:            c.ThreadID,
		Title:               c.Title,
		CommonParticipants:  fraction(common, len(active)),
		RecentActivityScore: clampUnit(float64(recent) / recentActivityNormalizer),
		InterestMatch:       fraction(matched, len(interests)),
	}
	out.RelevanceScore = clampUnit(r.weights.CommonParticipants*out.CommonParticipants +
		r.weights.RecentActivity*out.RecentActivityScore +
		r.weights.InterestMatch*out.InterestMatch)
	out.Reason = r.Reason(out.RelevanceScore)
	return out, true
}

// Reason は関連度スコアに応じた推薦理由を返す。
func (r *Ranker) Reason(score float64) string {
	switch {
	case score >= r.thresholds.High:
		return ReasonHigh
	case score >= r.thresholds.Medium:
		return ReasonMedium
	default:
		return ReasonLow
	}
}

func fraction(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
