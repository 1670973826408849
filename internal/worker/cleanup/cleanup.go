// Package cleanup は暫定集計行の削除ジョブを提供する。
// 期間の途中で計算された集計行は、期間が終了した時点で削除して再計算の対象に戻す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/diary/internal/metrics"
)

// ProvisionalPurger は暫定集計行の削除を抽象化するインターフェース。
// repository.RollupRepository が満たす。
type ProvisionalPurger interface {
	DeleteProvisional(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は終了済み期間の暫定集計行を削除するジョブ。
// 削除対象がない場合も成功とする。
type CleanupJob struct {
	rollups ProvisionalPurger
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorはnilでもよい。
func NewCleanupJob(rollups ProvisionalPurger, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		rollups: rollups,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は暫定集計行を削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()

	deleted, err := j.rollups.DeleteProvisional(ctx, start.UTC())
	if err != nil {
		j.logger.Error("暫定集計の削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("暫定集計の削除に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordProvisionalPurged(int(deleted))
	}

	j.logger.Info("暫定集計の削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}
