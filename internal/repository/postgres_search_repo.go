package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// PostgresSearchHistoryRepo はPostgreSQLを使用した検索履歴リポジトリ。
type PostgresSearchHistoryRepo struct {
	db *sql.DB
}

// NewPostgresSearchHistoryRepo はPostgresSearchHistoryRepoを生成する。
func NewPostgresSearchHistoryRepo(db *sql.DB) *PostgresSearchHistoryRepo {
	return &PostgresSearchHistoryRepo{db: db}
}

// Create は検索履歴を追加し、keep件を超えた古い履歴を同一トランザクションで削除する。
func (r *PostgresSearchHistoryRepo) Create(ctx context.Context, entry *model.SearchHistoryEntry, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO search_history (id, user_id, query, result_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Query, entry.ResultCount, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("検索履歴の作成に失敗しました: %w", err)
	}

	if err := trimUserRows(ctx, tx, "search_history", entry.UserID, keep); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーの検索履歴を新しい順に最大limit件返す。
func (r *PostgresSearchHistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.SearchHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, query, result_count, created_at
		 FROM search_history WHERE user_id = $1
		 ORDER BY created_at DESC, id ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("検索履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := []model.SearchHistoryEntry{}
	for rows.Next() {
		var e model.SearchHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.ResultCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("検索履歴行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索履歴の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// DeleteByUser はユーザーの検索履歴をすべて削除する。
func (r *PostgresSearchHistoryRepo) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM search_history WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("検索履歴の削除に失敗しました: %w", err)
	}
	return nil
}

// PostgresSavedSearchRepo はPostgreSQLを使用した保存検索リポジトリ。
type PostgresSavedSearchRepo struct {
	db *sql.DB
}

// NewPostgresSavedSearchRepo はPostgresSavedSearchRepoを生成する。
func NewPostgresSavedSearchRepo(db *sql.DB) *PostgresSavedSearchRepo {
	return &PostgresSavedSearchRepo{db: db}
}

// Create は保存検索を追加し、keep件を超えた古いものを同一トランザクションで削除する。
func (r *PostgresSavedSearchRepo) Create(ctx context.Context, s *model.SavedSearch, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO saved_searches (id, user_id, name, query, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.Name, s.Query, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("保存検索の作成に失敗しました: %w", err)
	}

	if err := trimUserRows(ctx, tx, "saved_searches", s.UserID, keep); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーの保存検索を新しい順に返す。
func (r *PostgresSavedSearchRepo) ListByUser(ctx context.Context, userID string) ([]model.SavedSearch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, query, created_at
		 FROM saved_searches WHERE user_id = $1
		 ORDER BY created_at DESC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("保存検索の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	searches := []model.SavedSearch{}
	for rows.Next() {
		var s model.SavedSearch
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Query, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("保存検索行の読み取りに失敗しました: %w", err)
		}
		searches = append(searches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存検索の走査に失敗しました: %w", err)
	}
	return searches, nil
}

// Delete はユーザーの保存検索を削除する。他ユーザーの保存検索は削除しない。
func (r *PostgresSavedSearchRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_searches WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("保存検索の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// PostgresSearchAnalyticsRepo はPostgreSQLを使用した検索分析ログリポジトリ。
type PostgresSearchAnalyticsRepo struct {
	db *sql.DB
}

// NewPostgresSearchAnalyticsRepo はPostgresSearchAnalyticsRepoを生成する。
func NewPostgresSearchAnalyticsRepo(db *sql.DB) *PostgresSearchAnalyticsRepo {
	return &PostgresSearchAnalyticsRepo{db: db}
}

// Create は検索分析ログを追加する。UserIDが空の場合はNULLとして保存する。
func (r *PostgresSearchAnalyticsRepo) Create(ctx context.Context, e *model.SearchAnalyticsEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO search_analytics (id, user_id, query, result_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, nullIfEmpty(e.UserID), e.Query, e.ResultCount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("検索分析ログの作成に失敗しました: %w", err)
	}
	return nil
}

// ListSince はsince以降の検索分析ログを返す。
func (r *PostgresSearchAnalyticsRepo) ListSince(ctx context.Context, since time.Time) ([]model.SearchAnalyticsEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, query, result_count, created_at
		 FROM search_analytics WHERE created_at >= $1
		 ORDER BY created_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("検索分析ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := []model.SearchAnalyticsEntry{}
	for rows.Next() {
		var e model.SearchAnalyticsEntry
		var userID sql.NullString
		if err := rows.Scan(&e.ID, &userID, &e.Query, &e.ResultCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("検索分析ログ行の読み取りに失敗しました: %w", err)
		}
		e.UserID = nullStringValue(userID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索分析ログの走査に失敗しました: %w", err)
	}
	return entries, nil
}

// trimUserRows はユーザーの行を新しい順にkeep件だけ残し、それより古いものを削除する。
// tableは固定の内部値のみを受け取る。
func trimUserRows(ctx context.Context, tx *sql.Tx, table, userID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+`
		 WHERE user_id = $1 AND id NOT IN (
		     SELECT id FROM `+table+` WHERE user_id = $1
		     ORDER BY created_at DESC, id ASC LIMIT $2
		 )`,
		userID, keep,
	)
	if err != nil {
		return fmt.Errorf("%sの古い行の削除に失敗しました: %w", table, err)
	}
	return nil
}
