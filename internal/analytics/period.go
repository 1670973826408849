package analytics

import (
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// DateOf は時刻をUTCの暦日（0時）に丸める。
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Window は集計対象の日付範囲を表す。StartとEndはどちらも含む。
type Window struct {
	Start time.Time
	End   time.Time
}

// Bounds はクエリ用の半開区間[from, to)を返す。
func (w Window) Bounds() (from, to time.Time) {
	return w.Start, w.End.AddDate(0, 0, 1)
}

// PeriodWindow はkey日付を含む期間の範囲を返す。
// day はその日、week はISO週（月曜〜日曜）、month は暦月の1日〜末日。
func PeriodWindow(kind model.PeriodKind, key time.Time) (Window, error) {
	d := DateOf(key)
	switch kind {
	case model.PeriodDay:
		return Window{Start: d, End: d}, nil
	case model.PeriodWeek:
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 6)}, nil
	case model.PeriodMonth:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, -1)}, nil
	}
	return Window{}, fmt.Errorf("unknown period kind: %q", kind)
}

// LastClosedWindow はnow時点で直近に終了した期間の範囲を返す。
func LastClosedWindow(kind model.PeriodKind, now time.Time) (Window, error) {
	current, err := PeriodWindow(kind, now)
	if err != nil {
		return Window{}, err
	}
	return PeriodWindow(kind, current.Start.AddDate(0, 0, -1))
}
