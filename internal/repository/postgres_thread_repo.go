package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/threadpulse/internal/model"
)

// PostgresThreadRepo はPostgreSQLを使用したスレッドリポジトリ。
type PostgresThreadRepo struct {
	db *sql.DB
}

// NewPostgresThreadRepo はPostgresThreadRepoを生成する。
func NewPostgresThreadRepo(db *sql.DB) *PostgresThreadRepo {
	return &PostgresThreadRepo{db: db}
}

const threadColumns = `t.id, t.title, t.created_by, t.created_at, t.updated_at,
	COALESCE(ARRAY(SELECT p.user_id::text FROM thread_participants p
	               WHERE p.thread_id = t.id ORDER BY p.joined_at), '{}')`

// FindByID は指定IDのスレッドを参加者付きで取得する。見つからない場合はnilを返す。
func (r *PostgresThreadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads t WHERE t.id = $1`,
		id,
	)
	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スレッドの取得に失敗しました: %w", err)
	}
	return thread, nil
}

// ListByParticipant はユーザーが作成・参加・アクティビティ記録したスレッドを返す。
func (r *PostgresThreadRepo) ListByParticipant(ctx context.Context, userID string) ([]*model.Thread, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+threadColumns+`
		 FROM threads t
		 WHERE t.created_by = $1
		    OR EXISTS (SELECT 1 FROM thread_participants p WHERE p.thread_id = t.id AND p.user_id = $1)
		    OR EXISTS (SELECT 1 FROM thread_activities a WHERE a.thread_id = t.id AND a.user_id = $1)
		 ORDER BY t.updated_at DESC, t.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加スレッド一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectThreads(rows)
}

// ListCandidatesForUser はsince以降に活動があり、ユーザーが関与していないスレッドを返す。
func (r *PostgresThreadRepo) ListCandidatesForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Thread, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+threadColumns+`
		 FROM threads t
		 WHERE EXISTS (SELECT 1 FROM thread_activities a WHERE a.thread_id = t.id AND a.created_at >= $2)
		   AND NOT EXISTS (SELECT 1 FROM thread_activities a WHERE a.thread_id = t.id AND a.user_id = $1)
		   AND NOT EXISTS (SELECT 1 FROM thread_participants p WHERE p.thread_id = t.id AND p.user_id = $1)
		   AND (t.created_by IS NULL OR t.created_by <> $1)
		 ORDER BY t.updated_at DESC, t.id ASC
		 LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("推薦候補スレッドの取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectThreads(rows)
}

// ListCollaborators はユーザーと同じスレッドでsince以降に活動した他ユーザーのIDを返す。
func (r *PostgresThreadRepo) ListCollaborators(ctx context.Context, userID string, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT other.user_id::text
		 FROM thread_activities mine
		 JOIN thread_activities other ON other.thread_id = mine.thread_id
		 WHERE mine.user_id = $1
		   AND mine.created_at >= $2
		   AND other.created_at >= $2
		   AND other.user_id <> $1
		 ORDER BY 1`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("共同参加者の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("共同参加者行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("共同参加者の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// SearchByTitle はタイトルに部分一致するスレッドを最終アクティビティの降順で返す。
// クエリ中の%と_はワイルドカードとして扱わない。
func (r *PostgresThreadRepo) SearchByTitle(ctx context.Context, query string, limit int) ([]model.ThreadSearchResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.title, ta.last_activity
		 FROM threads t
		 LEFT JOIN thread_analytics ta ON ta.thread_id = t.id
		 WHERE t.title ILIKE $1 ESCAPE '\'
		 ORDER BY ta.last_activity DESC NULLS LAST, t.id ASC
		 LIMIT $2`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("スレッド検索に失敗しました: %w", err)
	}
	defer rows.Close()

	results := []model.ThreadSearchResult{}
	for rows.Next() {
		var res model.ThreadSearchResult
		var last sql.NullTime
		if err := rows.Scan(&res.ThreadID, &res.Title, &last); err != nil {
			return nil, fmt.Errorf("検索結果行の読み取りに失敗しました: %w", err)
		}
		if last.Valid {
			t := last.Time
			res.LastActivity = &t
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索結果の走査に失敗しました: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*model.Thread, error) {
	thread := &model.Thread{}
	var createdBy sql.NullString
	var participants []string
	if err := row.Scan(&thread.ID, &thread.Title, &createdBy, &thread.CreatedAt, &thread.UpdatedAt, pq.Array(&participants)); err != nil {
		return nil, err
	}
	thread.CreatedBy = nullStringValue(createdBy)
	thread.Participants = participants
	return thread, nil
}

func collectThreads(rows *sql.Rows) ([]*model.Thread, error) {
	var threads []*model.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("スレッド行の読み取りに失敗しました: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スレッド一覧の走査に失敗しました: %w", err)
	}
	return threads, nil
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
