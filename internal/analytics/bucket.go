package analytics

import (
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// Granularity は時間バケットの粒度。
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// バケットキーの正規フォーマット
const (
	hourKeyLayout  = "2006-01-02T15"
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

// ParseGranularity はトークンをGranularityに変換する。空文字列はdayとして扱う。
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return GranularityDay, nil
	case GranularityHour, GranularityDay, GranularityMonth:
		return Granularity(s), nil
	default:
		return "", model.NewInvalidGranularityError(s)
	}
}

// TimeBucketer は時刻を粒度ごとのバケットに割り当てる。
// タイムラインとヒートマップはこのインターフェースを通じて同じ時刻解釈を共有する。
type TimeBucketer interface {
	// Key はtが属するバケットの正規キーを返す。
	Key(t time.Time) string
	// Start はtが属するバケットの開始時刻を返す。
	Start(t time.Time) time.Time
	// Next はバケット開始時刻startの次のバケットの開始時刻を返す。
	Next(start time.Time) time.Time
}

// granularityBucketer は粒度とタイムゾーンで決まるTimeBucketerの実装。
type granularityBucketer struct {
	granularity Granularity
	loc         *time.Location
}

// NewBucketer は粒度gのTimeBucketerを生成する。locがnilの場合はサーバーのローカル時刻を使用する。
func NewBucketer(g Granularity, loc *time.Location) TimeBucketer {
	if loc == nil {
		loc = time.Local
	}
	return &granularityBucketer{granularity: g, loc: loc}
}

func (b *granularityBucketer) Key(t time.Time) string {
	local := t.In(b.loc)
	switch b.granularity {
	case GranularityHour:
		return local.Format(hourKeyLayout)
	case GranularityMonth:
		return local.Format(monthKeyLayout)
	default:
		return local.Format(dayKeyLayout)
	}
}

func (b *granularityBucketer) Start(t time.Time) time.Time {
	l := t.In(b.loc)
	switch b.granularity {
	case GranularityHour:
		return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), 0, 0, 0, b.loc)
	case GranularityMonth:
		return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, b.loc)
	default:
		return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, b.loc)
	}
}

func (b *granularityBucketer) Next(start time.Time) time.Time {
	l := start.In(b.loc)
	switch b.granularity {
	case GranularityHour:
		return time.Date(l.Year(), l.Month(), l.Day(), l.Hour()+1, 0, 0, 0, b.loc)
	case GranularityMonth:
		return time.Date(l.Year(), l.Month()+1, 1, 0, 0, 0, 0, b.loc)
	default:
		return time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, b.loc)
	}
}

// Bucket はタイムラインの1バケット。
type Bucket struct {
	Key   string
	Start time.Time
	Count int
}

// Timeline は[from, to)に含まれる記録をバケットごとに数え、
// fromからtoまでの全バケットを欠損なく（件数0で埋めて）キー順に返す。
// 全バケットの件数の合計は時間窓内の記録数と一致する。
func Timeline(records []model.ActivityRecord, b TimeBucketer, from, to time.Time) []Bucket {
	buckets := []Bucket{}
	if !from.Before(to) {
		return buckets
	}

	w := Window{Start: from, End: to}
	counts := make(map[string]int)
	for _, r := range records {
		if w.Contains(r.Timestamp) {
			counts[b.Key(r.Timestamp)]++
		}
	}

	for start := b.Start(from); start.Before(to); start = b.Next(start) {
		key := b.Key(start)
		buckets = append(buckets, Bucket{Key: key, Start: start, Count: counts[key]})
	}
	return buckets
}

// Heatmap は曜日×時間帯の密な行列。Cells[day][hour]で参照し、day 0 = 日曜日、hourは0〜23。
type Heatmap struct {
	Cells    [7][24]int
	Total    int
	Max      int
	PeakDay  int // 記録がない場合は -1
	PeakHour int // 記録がない場合は -1
}

// BuildHeatmap は時間窓に含まれる記録をlocのローカル時刻で曜日×時間帯に振り分ける。
// 全セルの合計は時間窓内の記録数と一致する。
func BuildHeatmap(records []model.ActivityRecord, w Window, loc *time.Location) Heatmap {
	if loc == nil {
		loc = time.Local
	}
	h := Heatmap{PeakDay: -1, PeakHour: -1}
	for _, r := range records {
		if !w.Contains(r.Timestamp) {
			continue
		}
		local := r.Timestamp.In(loc)
		h.Cells[int(local.Weekday())][local.Hour()]++
		h.Total++
	}

	for day := range h.Cells {
		for hour, c := range h.Cells[day] {
			if c > h.Max {
				h.Max = c
				h.PeakDay = day
				h.PeakHour = hour
			}
		}
	}
	return h
}
