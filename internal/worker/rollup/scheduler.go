// Package rollup は集計行の定期計算を行うバックグラウンドワーカーを提供する。
// 終了済み期間の暫定行を削除したあと、直近に終了した日・週・月と前日の完了率を計算して保存する。
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/model"
)

// Purger は暫定集計行の削除を行うインターフェース。cleanup.CleanupJob が満たす。
type Purger interface {
	Run(ctx context.Context) (int64, error)
}

// PeriodComputer は期間集計の計算インターフェース。
type PeriodComputer interface {
	Compute(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error)
}

// CompletionComputer は日別完了率の計算インターフェース。
type CompletionComputer interface {
	Compute(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error)
}

// Scheduler は集計計算のスケジューリングと並列制御を行う。
type Scheduler struct {
	purger         Purger
	periods        PeriodComputer
	completion     CompletionComputer
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	purger Purger,
	periods PeriodComputer,
	completion CompletionComputer,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		purger:         purger,
		periods:        periods,
		completion:     completion,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("集計スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("集計サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("集計スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("集計サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// task は1回の集計サイクルで実行する計算単位。
type task struct {
	name string
	key  time.Time
	run  func(ctx context.Context) error
}

// RunOnce は暫定行を削除し、直近に終了した各期間の集計を並列で計算する。
// 削除に失敗した場合は計算を行わない。個々の計算失敗はまとめて返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	if _, err := s.purger.Run(ctx); err != nil {
		return err
	}

	tasks, err := s.closedPeriodTasks(start)
	if err != nil {
		return err
	}

	s.logger.Info("集計サイクルを開始します",
		slog.Int("task_count", len(tasks)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, t := range tasks {
		wg.Add(1)
		sem <- struct{}{}

		go func(t task) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := t.run(ctx); err != nil {
				s.logger.Error("集計の計算に失敗しました",
					slog.String("kind", t.name),
					slog.String("period_start", t.key.Format(time.DateOnly)),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", t.name, t.key.Format(time.DateOnly), err))
				mu.Unlock()
			}
		}(t)
	}

	wg.Wait()

	s.logger.Info("集計サイクルが完了しました",
		slog.Int("task_count", len(tasks)),
		slog.Int("failed_count", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// closedPeriodTasks はnow時点で直近に終了した日・週・月と前日の完了率の計算タスクを返す。
func (s *Scheduler) closedPeriodTasks(now time.Time) ([]task, error) {
	var tasks []task
	for _, kind := range []model.PeriodKind{model.PeriodDay, model.PeriodWeek, model.PeriodMonth} {
		w, err := analytics.LastClosedWindow(kind, now)
		if err != nil {
			return nil, err
		}
		kind, key := kind, w.Start
		tasks = append(tasks, task{
			name: string(kind),
			key:  key,
			run: func(ctx context.Context) error {
				_, err := s.periods.Compute(ctx, kind, &key)
				return err
			},
		})
	}

	yesterday := analytics.DateOf(now).AddDate(0, 0, -1)
	tasks = append(tasks, task{
		name: "completion",
		key:  yesterday,
		run: func(ctx context.Context) error {
			_, err := s.completion.Compute(ctx, &yesterday)
			return err
		},
	})

	return tasks, nil
}
