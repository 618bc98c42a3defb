package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
)

// PostgresThreadAnalyticsRepo はPostgreSQLを使用したスレッドカウンタリポジトリ。
type PostgresThreadAnalyticsRepo struct {
	db *sql.DB
}

// NewPostgresThreadAnalyticsRepo はPostgresThreadAnalyticsRepoを生成する。
func NewPostgresThreadAnalyticsRepo(db *sql.DB) *PostgresThreadAnalyticsRepo {
	return &PostgresThreadAnalyticsRepo{db: db}
}

// incrementCounters はトランザクション内でカウンタにdeltaを加算する。行がなければ作成する。
// 加算はINSERT ON CONFLICTによりストア側でアトミックに行われる。
// participant_countは記録済みアクティビティのユニークユーザー数で再計算する。
// last_activityは既存値より古い時刻では巻き戻さない。
func incrementCounters(ctx context.Context, tx *sql.Tx, threadID string, delta model.CounterDelta, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO thread_analytics
		     (thread_id, view_count, reply_count, reaction_count, participant_count, last_activity, updated_at)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COUNT(DISTINCT user_id) FROM thread_activities WHERE thread_id = $1),
		         $5, NOW())
		 ON CONFLICT (thread_id) DO UPDATE SET
		     view_count        = thread_analytics.view_count + EXCLUDED.view_count,
		     reply_count       = thread_analytics.reply_count + EXCLUDED.reply_count,
		     reaction_count    = thread_analytics.reaction_count + EXCLUDED.reaction_count,
		     participant_count = EXCLUDED.participant_count,
		     last_activity     = GREATEST(thread_analytics.last_activity, EXCLUDED.last_activity),
		     updated_at        = NOW()`,
		threadID, delta.Views, delta.Replies, delta.Reactions, at,
	)
	if err != nil {
		return fmt.Errorf("スレッドカウンタの更新に失敗しました: %w", err)
	}
	return nil
}

// FindByThread はスレッドのカウンタを取得する。見つからない場合はnilを返す。
func (r *PostgresThreadAnalyticsRepo) FindByThread(ctx context.Context, threadID string) (*model.ThreadAnalytics, error) {
	a := &model.ThreadAnalytics{}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT thread_id, view_count, reply_count, reaction_count, participant_count, last_activity
		 FROM thread_analytics WHERE thread_id = $1`,
		threadID,
	).Scan(&a.ThreadID, &a.ViewCount, &a.ReplyCount, &a.ReactionCount, &a.ParticipantCount, &last)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スレッドカウンタの取得に失敗しました: %w", err)
	}
	if last.Valid {
		a.LastActivity = &last.Time
	}
	return a, nil
}
