package model

import "time"

// Thread はディスカッションスレッドを表す。
// 永続化層が所有し、本サービスからは参照のみ行う。
type Thread struct {
	ID           string
	Title        string
	CreatedBy    string
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ThreadAnalytics はスレッドごとの非正規化カウンタ。
// アクティビティ記録のたびにINSERT ON CONFLICTでインクリメントされる。
type ThreadAnalytics struct {
	ThreadID         string
	ViewCount        int
	ReplyCount       int
	ReactionCount    int
	ParticipantCount int
	LastActivity     *time.Time
}

// CounterDelta はThreadAnalyticsに加算する差分。
type CounterDelta struct {
	Views     int
	Replies   int
	Reactions int
}

// DeltaFor はアクティビティ種別に対応するカウンタ差分を返す。
func DeltaFor(t ActivityType) CounterDelta {
	switch t {
	case ActivityView:
		return CounterDelta{Views: 1}
	case ActivityMessageCreated, ActivityComment:
		return CounterDelta{Replies: 1}
	case ActivityReactionAdded:
		return CounterDelta{Reactions: 1}
	default:
		return CounterDelta{}
	}
}
