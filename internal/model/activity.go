// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// ActivityType はスレッドに対するユーザー操作の種別を表す。
type ActivityType string

const (
	// ActivityMessageCreated はメッセージ投稿。
	ActivityMessageCreated ActivityType = "message_created"
	// ActivityReactionAdded はリアクション追加。
	ActivityReactionAdded ActivityType = "reaction_added"
	// ActivityContentEdited はメッセージ編集。
	ActivityContentEdited ActivityType = "content_edited"
	// ActivityView はスレッド閲覧。
	ActivityView ActivityType = "view"
	// ActivityComment はコメント投稿。
	ActivityComment ActivityType = "comment"
)

// knownActivityTypes は記録を受け付けるアクティビティ種別のセット。
var knownActivityTypes = map[ActivityType]bool{
	ActivityMessageCreated: true,
	ActivityReactionAdded:  true,
	ActivityContentEdited:  true,
	ActivityView:           true,
	ActivityComment:        true,
}

// NormalizeActivityType は種別トークンを小文字スネークケースに正規化する。
// "MESSAGE_CREATED" と "message_created" は同一種別として扱う。
func NormalizeActivityType(s string) ActivityType {
	return ActivityType(strings.ToLower(strings.TrimSpace(s)))
}

// IsKnown は既知のアクティビティ種別かどうかを返す。
func (t ActivityType) IsKnown() bool {
	return knownActivityTypes[t]
}

// ActivityRecord はスレッドに対する1回のユーザー操作の記録。
// 作成後は変更されず、保持期間を超えた場合にのみクリーンアップジョブで削除される。
type ActivityRecord struct {
	ID        string
	ThreadID  string
	UserID    string
	Type      ActivityType
	Timestamp time.Time
	Metadata  map[string]any
}

// ActivityExportRow はエクスポート用にスレッド・ユーザー情報を結合したアクティビティ。
type ActivityExportRow struct {
	CreatedAt   time.Time
	Type        ActivityType
	ThreadTitle string
	UserName    string
	UserEmail   string
	Metadata    map[string]any
}
