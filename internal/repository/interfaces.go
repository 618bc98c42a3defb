// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// ThreadRepository はスレッドデータの参照インターフェース。
// スレッド自体は外部のディスカッション機能が所有し、本サービスからは読み取りのみ行う。
type ThreadRepository interface {
	// FindByID は指定IDのスレッドを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Thread, error)

	// ListByParticipant はユーザーが作成・参加・アクティビティ記録したスレッドを返す。
	ListByParticipant(ctx context.Context, userID string) ([]*model.Thread, error)

	// ListCandidatesForUser はsince以降にアクティビティがあり、
	// ユーザーが参加もアクティビティ記録もしていないスレッドを最大limit件返す。
	ListCandidatesForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error)

	// ListCollaborators はsince以降にユーザーがアクティビティを記録したスレッドで
	// 活動している他ユーザーのIDを重複なしで返す。ユーザー自身は含まない。
	ListCollaborators(ctx context.Context, userID string, since time.Time) ([]string, error)

	// SearchByTitle はタイトルに部分一致するスレッドを最終アクティビティの降順で返す。
	SearchByTitle(ctx context.Context, query string, limit int) ([]model.ThreadSearchResult, error)
}

// ActivityRepository はアクティビティ記録の永続化インターフェース。
// 記録は追記のみで、更新は行わない。
type ActivityRepository interface {
	// Create はアクティビティ記録を追加し、スレッドカウンタにdeltaを加算する。
	// 両者は1トランザクションで行い、どちらかが失敗した場合は何も永続化しない。
	Create(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error

	// ListByThread はスレッドのsince以降の記録を時刻の昇順で返す。
	ListByThread(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error)

	// ListByUser はユーザーのsince以降の記録を時刻の昇順で返す。
	ListByUser(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error)

	// ListByThreads は複数スレッドのsince以降の記録を1クエリで返す。
	ListByThreads(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error)

	// ListExportRows はスレッドのsince以降の記録をスレッド名・ユーザー情報付きで返す。
	ListExportRows(ctx context.Context, threadID string, since time.Time) ([]model.ActivityExportRow, error)
}

// ThreadAnalyticsRepository はスレッドごとの非正規化カウンタの永続化インターフェース。
type ThreadAnalyticsRepository interface {
	// FindByThread はスレッドのカウンタを取得する。見つからない場合はnilを返す。
	FindByThread(ctx context.Context, threadID string) (*model.ThreadAnalytics, error)
}

// SearchHistoryRepository は検索履歴の永続化インターフェース。
type SearchHistoryRepository interface {
	// Create は検索履歴を追加し、ユーザーの履歴がkeep件を超えた分を古い順に削除する。
	Create(ctx context.Context, entry *model.SearchHistoryEntry, keep int) error

	// ListByUser はユーザーの検索履歴を新しい順に最大limit件返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.SearchHistoryEntry, error)

	// DeleteByUser はユーザーの検索履歴をすべて削除する。
	DeleteByUser(ctx context.Context, userID string) error
}

// SavedSearchRepository は保存検索の永続化インターフェース。
type SavedSearchRepository interface {
	// Create は保存検索を追加し、ユーザーの保存検索がkeep件を超えた分を古い順に削除する。
	Create(ctx context.Context, search *model.SavedSearch, keep int) error

	// ListByUser はユーザーの保存検索を新しい順に返す。
	ListByUser(ctx context.Context, userID string) ([]model.SavedSearch, error)

	// Delete はユーザーの保存検索を削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// SearchAnalyticsRepository は検索分析ログの永続化インターフェース。
type SearchAnalyticsRepository interface {
	// Create は検索分析ログを追加する。
	Create(ctx context.Context, entry *model.SearchAnalyticsEntry) error

	// ListSince はsince以降の検索分析ログを返す。
	ListSince(ctx context.Context, since time.Time) ([]model.SearchAnalyticsEntry, error)
}
