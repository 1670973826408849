package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
)

// DefaultPatternDays は利用パターン集計の既定の遡り日数。
const DefaultPatternDays = 30

// UsagePatternAnalyzer は機能別・時間帯別の利用分布を算出する。
type UsagePatternAnalyzer struct {
	events repository.SnapshotReader
	now    func() time.Time
}

// NewUsagePatternAnalyzer はUsagePatternAnalyzerを生成する。
func NewUsagePatternAnalyzer(events repository.SnapshotReader, now func() time.Time) *UsagePatternAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &UsagePatternAnalyzer{events: events, now: now}
}

// Patterns はstart〜endの利用分布を返す。
// endの既定は今日、startの既定は今日の30日前。
func (a *UsagePatternAnalyzer) Patterns(ctx context.Context, start, end *time.Time) (*model.UsagePatterns, error) {
	today := DateOf(a.now())
	w := Window{Start: today.AddDate(0, 0, -DefaultPatternDays), End: today}
	if start != nil {
		w.Start = DateOf(*start)
	}
	if end != nil {
		w.End = DateOf(*end)
	}
	from, to := w.Bounds()

	patterns := &model.UsagePatterns{
		StartDate: w.Start,
		EndDate:   w.End,
		ByFeature: []model.FeatureUsageStat{},
		ByHour:    []model.HourlyUsageStat{},
	}

	err := a.events.ReadSnapshot(ctx, func(r repository.EventReader) error {
		byFeature, err := r.UsageByFeature(ctx, from, to)
		if err != nil {
			return err
		}
		byHour, err := r.UsageByHour(ctx, from, to)
		if err != nil {
			return err
		}
		if byFeature != nil {
			patterns.ByFeature = byFeature
		}
		if byHour != nil {
			patterns.ByHour = byHour
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("利用パターンの集計に失敗しました: %w", err)
	}

	return patterns, nil
}
