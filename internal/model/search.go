package model

import "time"

// MaxSearchEntriesPerUser はユーザーごとに保持する検索履歴・保存検索の上限。
// 上限を超えた場合は古いものから削除する。
const MaxSearchEntriesPerUser = 100

// SearchHistoryEntry はユーザーの検索履歴1件。
type SearchHistoryEntry struct {
	ID          string
	UserID      string
	Query       string
	ResultCount int
	CreatedAt   time.Time
}

// SavedSearch はユーザーが保存した検索条件。
type SavedSearch struct {
	ID        string
	UserID    string
	Name      string
	Query     string
	CreatedAt time.Time
}

// SearchAnalyticsEntry は検索分析用のログ1件。
type SearchAnalyticsEntry struct {
	ID          string
	UserID      string
	Query       string
	ResultCount int
	CreatedAt   time.Time
}

// ThreadSearchResult はスレッド検索の結果1件。
type ThreadSearchResult struct {
	ThreadID     string
	Title        string
	LastActivity *time.Time
}
