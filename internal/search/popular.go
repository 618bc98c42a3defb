package search

import (
	"sort"
	"strings"

	"github.com/hitoshi/threadpulse/internal/model"
)

// PopularQuery は正規化したクエリごとの検索回数。
type PopularQuery struct {
	Query          string
	Count          int
	AverageResults float64
}

// NormalizeQuery は集計用にクエリを小文字化し、連続する空白を1つにまとめる。
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Popular は検索分析ログを正規化したクエリでまとめ、回数の降順、同数ならクエリの昇順で最大limit件返す。
// 正規化後に空になるクエリは数えない。
func Popular(entries []model.SearchAnalyticsEntry, limit int) []PopularQuery {
	type acc struct {
		count   int
		results int
	}
	byQuery := make(map[string]*acc)
	for _, e := range entries {
		q := NormalizeQuery(e.Query)
		if q == "" {
			continue
		}
		a, ok := byQuery[q]
		if !ok {
			a = &acc{}
			byQuery[q] = a
		}
		a.count++
		a.results += e.ResultCount
	}

	out := make([]PopularQuery, 0, len(byQuery))
	for q, a := range byQuery {
		out = append(out, PopularQuery{
			Query:          q,
			Count:          a.count,
			AverageResults: float64(a.results) / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
