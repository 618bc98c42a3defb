// Package cleanup は保持期間を超過したアクティビティ記録と検索分析ログの削除ジョブを提供する。
// 起動直後に1回、その後は一定間隔で実行する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/threadpulse/internal/metrics"
)

// DefaultRetentionDays は記録の保持日数の既定値。
const DefaultRetentionDays = 90

// Tables は削除対象のテーブル。どちらもcreated_atで保持期間を判定する。
var Tables = []string{"thread_activities", "search_analytics"}

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過した行の自動削除ジョブ。
// 削除対象がない場合もエラーにならないため、何度実行してもよい。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	RetentionDays int
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector, retentionDays int) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		metrics:       collector,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Cutoff はこの時刻より前に作成された行を削除対象とする境界を返す。
func (j *CleanupJob) Cutoff() time.Time {
	return j.now().Add(-time.Duration(j.RetentionDays) * 24 * time.Hour)
}

// Run は各テーブルから保持期間を超過した行を削除し、テーブルごとの削除件数を返す。
// 途中のテーブルで失敗した場合は、それまでの削除件数とエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	cutoff := j.Cutoff()
	deleted := make(map[string]int64, len(Tables))

	for _, table := range Tables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, table)
		result, err := j.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", table),
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			return deleted, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
		}

		count, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("%sの削除件数の取得に失敗: %w", table, err)
		}
		deleted[table] = count
		j.metrics.RecordCleanupDeleted(table, count)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_activities", deleted["thread_activities"]),
		slog.Int64("deleted_search_analytics", deleted["search_analytics"]),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。失敗した回はログに残して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("クリーンアップサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}
}
