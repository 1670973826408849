// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// CreateIfAbsent はexternal_idが未登録の場合のみユーザーを作成する。
	// 保存されている行と、今回作成したかどうかを返す。
	CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, bool, error)

	// Update はプロフィールと設定を更新し、更新後の行を返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository は利用セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Close は未終了のセッションに終了時刻と利用時間を設定する。
	// すでに終了済みの場合は何もせずfalseを返す。
	Close(ctx context.Context, id string, endTime time.Time, durationSeconds float64) (bool, error)
}

// UsageEventRepository は機能利用イベントの永続化インターフェース。
type UsageEventRepository interface {
	// Create は機能利用イベントを追加する。
	Create(ctx context.Context, event *model.FeatureUsageEvent) error
}

// JournalEntryRepository はジャーナルの永続化インターフェース。
type JournalEntryRepository interface {
	// Upsert は(user_id, entry_date)単位でジャーナルを作成または上書きする。
	// 保存後のID・作成日時を反映したエントリを返す。
	Upsert(ctx context.Context, entry *model.JournalEntry) (*model.JournalEntry, error)

	// FindByDate はユーザーの指定日のジャーナルを取得する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error)

	// List はユーザーのジャーナルを日付の新しい順に返す。
	// limit件をoffset件目から取得し、ユーザーの総件数も返す。
	List(ctx context.Context, userID string, limit, offset int) ([]*model.JournalEntry, int, error)
}

// RollupRepository は集計行の永続化インターフェース。
// 集計行は一度保存されたら更新しない。
type RollupRepository interface {
	// FindPeriod は(kind, period_start)の集計行を取得する。見つからない場合はnilを返す。
	FindPeriod(ctx context.Context, kind model.PeriodKind, periodStart time.Time) (*model.PeriodMetrics, error)

	// InsertPeriodIfAbsent は集計行を未保存の場合のみ保存し、保存されている行を返す。
	// 競合した場合は先に保存された行が返る。
	InsertPeriodIfAbsent(ctx context.Context, m *model.PeriodMetrics) (*model.PeriodMetrics, error)

	// FindCompletion は指定日の完了率集計を取得する。見つからない場合はnilを返す。
	FindCompletion(ctx context.Context, date time.Time) (*model.CompletionMetrics, error)

	// InsertCompletionIfAbsent は完了率集計を未保存の場合のみ保存し、保存されている行を返す。
	InsertCompletionIfAbsent(ctx context.Context, m *model.CompletionMetrics) (*model.CompletionMetrics, error)

	// DeleteProvisional は期間中に計算され、かつ期間がnowまでに終了した集計行を削除する。
	// 削除した行数を返す。
	DeleteProvisional(ctx context.Context, now time.Time) (int64, error)
}

// EntryStats はジャーナル完了率の元になる集計値を表す。
// 平均値は対象行がない場合nilになる。
type EntryStats struct {
	Started           int
	Completed         int
	AvgCompletionTime *float64
	AvgEntryLength    *float64
}

// EventReader は生イベントに対する範囲集計クエリのインターフェース。
// 範囲は[from, to)の半開区間で指定する。
type EventReader interface {
	// CountActiveUsers は範囲内にセッションを開始したユーザーの重複なし数を返す。
	CountActiveUsers(ctx context.Context, from, to time.Time) (int, error)

	// CountNewUsers は範囲内に作成されたユーザー数を返す。
	CountNewUsers(ctx context.Context, from, to time.Time) (int, error)

	// CountSessions は範囲内に開始したセッション数を返す。
	CountSessions(ctx context.Context, from, to time.Time) (int, error)

	// AvgSessionDuration は範囲内に開始したセッションのうち利用時間が記録されたものの平均を返す。
	AvgSessionDuration(ctx context.Context, from, to time.Time) (*float64, error)

	// CountRetainedUsers はcohortFrom〜cohortToに作成されたユーザーのうち、
	// from〜toにセッションを開始したユーザーの重複なし数を返す。
	CountRetainedUsers(ctx context.Context, cohortFrom, cohortTo, from, to time.Time) (int, error)

	// EntryStats は範囲内に作成されたジャーナルの完了状況を返す。
	EntryStats(ctx context.Context, from, to time.Time) (*EntryStats, error)

	// UsageByFeature は範囲内の機能別利用回数と平均利用時間を返す。
	UsageByFeature(ctx context.Context, from, to time.Time) ([]model.FeatureUsageStat, error)

	// UsageByHour は範囲内の時間帯別利用回数を返す。利用のない時間帯は含まない。
	UsageByHour(ctx context.Context, from, to time.Time) ([]model.HourlyUsageStat, error)
}

// SnapshotReader は一貫したスナップショット上でEventReaderを提供する。
// 1回の集計に含まれる全クエリは同じスナップショットを参照する。
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(r EventReader) error) error
}

// querier は*sql.DBと*sql.Txの共通部分。
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
