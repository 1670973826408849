package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/diary/internal/metrics"
	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
)

const completionKind = "completion"

// PeriodAggregator は日・週・月単位の利用指標を算出し、結果を保存する。
// 一度保存した(kind, period_start)の行は再計算しない。
type PeriodAggregator struct {
	rollups repository.RollupRepository
	events  repository.SnapshotReader
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewPeriodAggregator はPeriodAggregatorを生成する。
func NewPeriodAggregator(
	rollups repository.RollupRepository,
	events repository.SnapshotReader,
	collector metrics.MetricsCollector,
	now func() time.Time,
) *PeriodAggregator {
	if now == nil {
		now = time.Now
	}
	return &PeriodAggregator{rollups: rollups, events: events, metrics: collector, now: now}
}

// Compute はkey日付を含む期間の指標を返す。keyがnilの場合は現在の期間を対象とする。
func (a *PeriodAggregator) Compute(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error) {
	ref := a.now()
	if key != nil {
		ref = *key
	}
	w, err := PeriodWindow(kind, ref)
	if err != nil {
		return nil, err
	}

	existing, err := a.rollups.FindPeriod(ctx, kind, w.Start)
	if err != nil {
		return nil, fmt.Errorf("保存済み集計の取得に失敗しました: %w", err)
	}
	if existing != nil {
		a.metrics.RecordRollupCacheHit(string(kind))
		return existing, nil
	}

	started := time.Now()
	m := &model.PeriodMetrics{
		ID:          uuid.New().String(),
		Kind:        kind,
		PeriodStart: w.Start,
		PeriodEnd:   w.End,
		ComputedAt:  a.now().UTC(),
	}
	from, to := w.Bounds()

	var newUsers int
	err = a.events.ReadSnapshot(ctx, func(r repository.EventReader) error {
		var err error
		if m.ActiveUsers, err = r.CountActiveUsers(ctx, from, to); err != nil {
			return err
		}
		if newUsers, err = r.CountNewUsers(ctx, from, to); err != nil {
			return err
		}
		if m.TotalSessions, err = r.CountSessions(ctx, from, to); err != nil {
			return err
		}
		avg, err := r.AvgSessionDuration(ctx, from, to)
		if err != nil {
			return err
		}
		m.AvgSessionDuration = valueOrZero(avg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s集計の計算に失敗しました: %w", kind, err)
	}

	m.NewUsers = newUsers
	m.ReturningUsers = m.ActiveUsers - m.NewUsers
	if m.ReturningUsers < 0 {
		slog.Warn("returning_usersが負の値になりました",
			slog.String("kind", string(kind)),
			slog.String("period_start", w.Start.Format(time.DateOnly)),
			slog.Int("active_users", m.ActiveUsers),
			slog.Int("new_users", m.NewUsers),
		)
		a.metrics.RecordNegativeReturning(string(kind))
	}

	stored, err := a.rollups.InsertPeriodIfAbsent(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("%s集計の保存に失敗しました: %w", kind, err)
	}

	a.metrics.RecordRollupComputed(string(kind))
	a.metrics.RecordComputeLatency(string(kind), time.Since(started))
	slog.Debug("集計を計算しました",
		slog.String("kind", string(kind)),
		slog.String("period_start", w.Start.Format(time.DateOnly)),
		slog.Int("active_users", stored.ActiveUsers),
	)

	return stored, nil
}

// CompletionCalculator は日別のジャーナル完了率を算出し、結果を保存する。
type CompletionCalculator struct {
	rollups repository.RollupRepository
	events  repository.SnapshotReader
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCompletionCalculator はCompletionCalculatorを生成する。
func NewCompletionCalculator(
	rollups repository.RollupRepository,
	events repository.SnapshotReader,
	collector metrics.MetricsCollector,
	now func() time.Time,
) *CompletionCalculator {
	if now == nil {
		now = time.Now
	}
	return &CompletionCalculator{rollups: rollups, events: events, metrics: collector, now: now}
}

// Compute は指定日の完了率を返す。dateがnilの場合は今日を対象とする。
func (c *CompletionCalculator) Compute(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error) {
	ref := c.now()
	if date != nil {
		ref = *date
	}
	day := DateOf(ref)

	existing, err := c.rollups.FindCompletion(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("保存済み完了率の取得に失敗しました: %w", err)
	}
	if existing != nil {
		c.metrics.RecordRollupCacheHit(completionKind)
		return existing, nil
	}

	started := time.Now()
	m := &model.CompletionMetrics{
		ID:         uuid.New().String(),
		MetricDate: day,
		ComputedAt: c.now().UTC(),
	}
	from, to := Window{Start: day, End: day}.Bounds()

	var stats *repository.EntryStats
	err = c.events.ReadSnapshot(ctx, func(r repository.EventReader) error {
		var err error
		stats, err = r.EntryStats(ctx, from, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("完了率の計算に失敗しました: %w", err)
	}

	m.EntriesStarted = stats.Started
	m.EntriesCompleted = stats.Completed
	m.CompletionRate = percentage(stats.Completed, stats.Started)
	m.AvgCompletionTime = valueOrZero(stats.AvgCompletionTime)
	m.AvgEntryLength = valueOrZero(stats.AvgEntryLength)

	stored, err := c.rollups.InsertCompletionIfAbsent(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("完了率の保存に失敗しました: %w", err)
	}

	c.metrics.RecordRollupComputed(completionKind)
	c.metrics.RecordComputeLatency(completionKind, time.Since(started))

	return stored, nil
}

// percentage はpart/whole×100を返す。wholeが0の場合は0を返す。
func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0.0
	}
	return float64(part) / float64(whole) * 100
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0.0
	}
	return *v
}
