package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
)

// DefaultRetentionDays は継続率曲線の既定の追跡日数。
const DefaultRetentionDays = 30

// RetentionAnalyzer はコホート別の継続率曲線を算出する。結果は保存しない。
type RetentionAnalyzer struct {
	events repository.SnapshotReader
}

// NewRetentionAnalyzer はRetentionAnalyzerを生成する。
func NewRetentionAnalyzer(events repository.SnapshotReader) *RetentionAnalyzer {
	return &RetentionAnalyzer{events: events}
}

// Curve はcohortDateに登録したユーザーが0〜daysToTrack日後にセッションを開始した割合を返す。
// 結果は常にdaysToTrack+1件で、コホートが空の場合はすべて0になる。
func (a *RetentionAnalyzer) Curve(ctx context.Context, cohortDate time.Time, daysToTrack int) (*model.RetentionCurve, error) {
	if daysToTrack < 0 {
		return nil, fmt.Errorf("days to track must not be negative: %d", daysToTrack)
	}

	cohort := DateOf(cohortDate)
	cohortFrom, cohortTo := Window{Start: cohort, End: cohort}.Bounds()
	curve := &model.RetentionCurve{
		CohortDate: cohort,
		Points:     make([]model.RetentionPoint, 0, daysToTrack+1),
	}

	err := a.events.ReadSnapshot(ctx, func(r repository.EventReader) error {
		size, err := r.CountNewUsers(ctx, cohortFrom, cohortTo)
		if err != nil {
			return err
		}
		curve.CohortSize = size

		for d := 0; d <= daysToTrack; d++ {
			point := model.RetentionPoint{Day: d}
			if size > 0 {
				day := cohort.AddDate(0, 0, d)
				from, to := Window{Start: day, End: day}.Bounds()
				retained, err := r.CountRetainedUsers(ctx, cohortFrom, cohortTo, from, to)
				if err != nil {
					return err
				}
				point.Percentage = percentage(retained, size)
			}
			curve.Points = append(curve.Points, point)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("継続率の計算に失敗しました: %w", err)
	}

	return curve, nil
}
