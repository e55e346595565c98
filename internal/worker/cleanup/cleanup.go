// Package cleanup は保存済みニュースレターの保持期間ジョブを提供する。
// collected_atが保持期間を超過したレコードを削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は既定の保持期間。
const DefaultRetention = 30 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は保持期間を超過したレコードの削除ジョブ。
// 削除対象がない場合も成功として扱い、何度実行しても結果は同じになる。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time

	// Retention はレコードの保持期間。重複排除ウィンドウ以上であること。
	Retention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionが0以下の場合は既定値を使う。
func NewCleanupJob(db Executor, logger *slog.Logger, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CleanupJob{
		db:        db,
		logger:    logger,
		now:       time.Now,
		Retention: retention,
	}
}

// Run はcollected_atが保持期間より古いレコードを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Retention).UTC()

	query := `DELETE FROM newsletters WHERE collected_at < $1`
	result, err := j.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		j.logger.Error("保持期間クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("保持期間クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("保持期間クリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}
