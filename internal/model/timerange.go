package model

import "time"

// TimeRange は集計期間のトークン。
type TimeRange string

const (
	// TimeRangeDay は直近1日。
	TimeRangeDay TimeRange = "day"
	// TimeRangeWeek は直近7日。
	TimeRangeWeek TimeRange = "week"
	// TimeRangeMonth は直近30日。
	TimeRangeMonth TimeRange = "month"
)

// ParseTimeRange はトークンをTimeRangeに変換する。空文字列はweekとして扱う。
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case "":
		return TimeRangeWeek, nil
	case TimeRangeDay, TimeRangeWeek, TimeRangeMonth:
		return TimeRange(s), nil
	default:
		return "", NewInvalidTimeRangeError(s)
	}
}

// Days は期間の日数を返す。
func (r TimeRange) Days() int {
	switch r {
	case TimeRangeDay:
		return 1
	case TimeRangeMonth:
		return 30
	default:
		return 7
	}
}

// Duration は期間の長さを返す。
func (r TimeRange) Duration() time.Duration {
	return time.Duration(r.Days()) * 24 * time.Hour
}

// MinDays と MaxDays は日数パラメータの許容範囲。
const (
	MinDays = 1
	MaxDays = 365
)

// ValidateDays は日数パラメータが[1,365]に収まっているか検証する。
// 範囲外の値は丸めずにValidationエラーを返す。
func ValidateDays(days int) error {
	if days < MinDays || days > MaxDays {
		return NewInvalidDaysError(days)
	}
	return nil
}
