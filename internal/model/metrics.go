package model

import (
	"fmt"
	"time"
)

// PeriodKind は集計期間の種別を表す。
type PeriodKind string

const (
	// PeriodDay は1日単位の集計。
	PeriodDay PeriodKind = "day"
	// PeriodWeek はISO週（月曜始まり）単位の集計。
	PeriodWeek PeriodKind = "week"
	// PeriodMonth は暦月単位の集計。
	PeriodMonth PeriodKind = "month"
)

// ParsePeriodKind は文字列をPeriodKindに変換する。
func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(s) {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return PeriodKind(s), nil
	}
	return "", fmt.Errorf("unknown period kind: %q", s)
}

// PeriodMetrics は期間ごとの利用指標を表す。
// (Kind, PeriodStart)ごとに1行のみ存在し、一度保存されたら変更されない。
type PeriodMetrics struct {
	ID                 string
	Kind               PeriodKind
	PeriodStart        time.Time
	PeriodEnd          time.Time // 期間の最終日（この日を含む）
	ActiveUsers        int
	NewUsers           int
	ReturningUsers     int
	TotalSessions      int
	AvgSessionDuration float64
	ComputedAt         time.Time
}

// IsFinal は期間が終了した後に計算された行かどうかを返す。
// 期間中に計算された行は暫定値であり、ワーカーが期間終了後に再計算する。
func (m *PeriodMetrics) IsFinal() bool {
	return !m.ComputedAt.Before(m.PeriodEnd.AddDate(0, 0, 1))
}

// CompletionMetrics は1日分のジャーナル完了率を表す。
type CompletionMetrics struct {
	ID                string
	MetricDate        time.Time
	EntriesStarted    int
	EntriesCompleted  int
	CompletionRate    float64 // 0〜100
	AvgCompletionTime float64 // 秒
	AvgEntryLength    float64
	ComputedAt        time.Time
}

// IsFinal は対象日が終わった後に計算された行かどうかを返す。
func (m *CompletionMetrics) IsFinal() bool {
	return !m.ComputedAt.Before(m.MetricDate.AddDate(0, 0, 1))
}

// RetentionPoint はコホート日からの経過日数ごとの継続率を表す。
type RetentionPoint struct {
	Day        int
	Percentage float64
}

// RetentionCurve はコホートの継続率曲線を表す。永続化はしない。
type RetentionCurve struct {
	CohortDate time.Time
	CohortSize int
	Points     []RetentionPoint // Day 0..N の N+1 件
}

// FeatureUsageStat は機能ごとの利用回数と平均利用時間を表す。
type FeatureUsageStat struct {
	FeatureName string
	UsageCount  int
	AvgDuration *float64 // 利用時間の記録がない場合はnil
}

// HourlyUsageStat は時間帯（0〜23時）ごとの利用回数を表す。
type HourlyUsageStat struct {
	Hour       int
	UsageCount int
}

// UsagePatterns は期間内の機能別・時間帯別の利用分布を表す。
type UsagePatterns struct {
	StartDate time.Time
	EndDate   time.Time
	ByFeature []FeatureUsageStat
	ByHour    []HourlyUsageStat // 利用のあった時間帯のみ
}
