package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/threadpulse/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したアクティビティ記録リポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create はアクティビティ記録を追加し、同じトランザクションでスレッドカウンタを加算する。
// メタデータはJSONBとして保存する。
func (r *PostgresActivityRepo) Create(ctx context.Context, record *model.ActivityRecord, delta model.CounterDelta) error {
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO thread_activities (id, thread_id, user_id, type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.ThreadID, record.UserID, string(record.Type), metadata, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("アクティビティの作成に失敗しました: %w", err)
	}

	if err := incrementCounters(ctx, tx, record.ThreadID, delta, record.Timestamp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

const activityColumns = `id, thread_id, user_id, type, metadata, created_at`

// ListByThread はスレッドのsince以降の記録を時刻の昇順で返す。
func (r *PostgresActivityRepo) ListByThread(ctx context.Context, threadID string, since time.Time) ([]model.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM thread_activities
		 WHERE thread_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC, id ASC`,
		threadID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("スレッドのアクティビティ取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// ListByUser はユーザーのsince以降の記録を時刻の昇順で返す。
func (r *PostgresActivityRepo) ListByUser(ctx context.Context, userID string, since time.Time) ([]model.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM thread_activities
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC, id ASC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのアクティビティ取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// ListByThreads は複数スレッドのsince以降の記録を返す。threadIDsが空の場合はクエリを発行しない。
func (r *PostgresActivityRepo) ListByThreads(ctx context.Context, threadIDs []string, since time.Time) ([]model.ActivityRecord, error) {
	if len(threadIDs) == 0 {
		return []model.ActivityRecord{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM thread_activities
		 WHERE thread_id = ANY($1::uuid[]) AND created_at >= $2
		 ORDER BY created_at ASC, id ASC`,
		pq.Array(threadIDs), since,
	)
	if err != nil {
		return nil, fmt.Errorf("複数スレッドのアクティビティ取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// ListExportRows はスレッドのsince以降の記録をスレッド名・ユーザー情報付きで新しい順に返す。
func (r *PostgresActivityRepo) ListExportRows(ctx context.Context, threadID string, since time.Time) ([]model.ActivityExportRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.created_at, a.type, t.title, COALESCE(u.name, ''), COALESCE(u.email, ''), a.metadata
		 FROM thread_activities a
		 JOIN threads t ON t.id = a.thread_id
		 LEFT JOIN users u ON u.id = a.user_id
		 WHERE a.thread_id = $1 AND a.created_at >= $2
		 ORDER BY a.created_at DESC, a.id ASC`,
		threadID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("エクスポート対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []model.ActivityExportRow{}
	for rows.Next() {
		var row model.ActivityExportRow
		var typ string
		var raw []byte
		if err := rows.Scan(&row.CreatedAt, &typ, &row.ThreadTitle, &row.UserName, &row.UserEmail, &raw); err != nil {
			return nil, fmt.Errorf("エクスポート行の読み取りに失敗しました: %w", err)
		}
		row.Type = model.ActivityType(typ)
		if row.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エクスポート対象の走査に失敗しました: %w", err)
	}
	return out, nil
}

func collectActivities(rows *sql.Rows) ([]model.ActivityRecord, error) {
	records := []model.ActivityRecord{}
	for rows.Next() {
		var rec model.ActivityRecord
		var typ string
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.UserID, &typ, &raw, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("アクティビティ行の読み取りに失敗しました: %w", err)
		}
		rec.Type = model.ActivityType(typ)
		metadata, err := decodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		rec.Metadata = metadata
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクティビティの走査に失敗しました: %w", err)
	}
	return records, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("メタデータのエンコードに失敗しました: %w", err)
	}
	return b, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("メタデータのデコードに失敗しました: %w", err)
	}
	return m, nil
}
