package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// PostgresRollupRepo はPostgreSQLを使用した集計行リポジトリ。
type PostgresRollupRepo struct {
	db *sql.DB
}

// NewPostgresRollupRepo はPostgresRollupRepoを生成する。
func NewPostgresRollupRepo(db *sql.DB) *PostgresRollupRepo {
	return &PostgresRollupRepo{db: db}
}

// FindPeriod は(kind, period_start)の集計行を取得する。見つからない場合はnilを返す。
func (r *PostgresRollupRepo) FindPeriod(ctx context.Context, kind model.PeriodKind, periodStart time.Time) (*model.PeriodMetrics, error) {
	m := &model.PeriodMetrics{}
	var k string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, kind, period_start, period_end, active_users, new_users, returning_users,
		        total_sessions, avg_session_duration, computed_at
		 FROM period_metrics
		 WHERE kind = $1 AND period_start = $2`,
		string(kind), periodStart.Format(time.DateOnly),
	).Scan(
		&m.ID, &k, &m.PeriodStart, &m.PeriodEnd,
		&m.ActiveUsers, &m.NewUsers, &m.ReturningUsers,
		&m.TotalSessions, &m.AvgSessionDuration, &m.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find period metrics: %w", err)
	}
	m.Kind = model.PeriodKind(k)
	return m, nil
}

// InsertPeriodIfAbsent は集計行を未保存の場合のみ保存し、保存されている行を返す。
// 同じキーを同時に計算した場合、ON CONFLICT DO NOTHINGにより先に保存した行が残る。
func (r *PostgresRollupRepo) InsertPeriodIfAbsent(ctx context.Context, m *model.PeriodMetrics) (*model.PeriodMetrics, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO period_metrics (
		     id, kind, period_start, period_end, active_users, new_users, returning_users,
		     total_sessions, avg_session_duration, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (kind, period_start) DO NOTHING`,
		m.ID, string(m.Kind), m.PeriodStart.Format(time.DateOnly), m.PeriodEnd.Format(time.DateOnly),
		m.ActiveUsers, m.NewUsers, m.ReturningUsers,
		m.TotalSessions, m.AvgSessionDuration, m.ComputedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert period metrics: %w", err)
	}

	stored, err := r.FindPeriod(ctx, m.Kind, m.PeriodStart)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("period metrics not found after insert: %s %s", m.Kind, m.PeriodStart.Format(time.DateOnly))
	}
	return stored, nil
}

// FindCompletion は指定日の完了率集計を取得する。見つからない場合はnilを返す。
func (r *PostgresRollupRepo) FindCompletion(ctx context.Context, date time.Time) (*model.CompletionMetrics, error) {
	m := &model.CompletionMetrics{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, metric_date, entries_started, entries_completed, completion_rate,
		        avg_completion_time, avg_entry_length, computed_at
		 FROM completion_metrics
		 WHERE metric_date = $1`,
		date.Format(time.DateOnly),
	).Scan(
		&m.ID, &m.MetricDate, &m.EntriesStarted, &m.EntriesCompleted, &m.CompletionRate,
		&m.AvgCompletionTime, &m.AvgEntryLength, &m.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find completion metrics: %w", err)
	}
	return m, nil
}

// InsertCompletionIfAbsent は完了率集計を未保存の場合のみ保存し、保存されている行を返す。
func (r *PostgresRollupRepo) InsertCompletionIfAbsent(ctx context.Context, m *model.CompletionMetrics) (*model.CompletionMetrics, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO completion_metrics (
		     id, metric_date, entries_started, entries_completed, completion_rate,
		     avg_completion_time, avg_entry_length, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (metric_date) DO NOTHING`,
		m.ID, m.MetricDate.Format(time.DateOnly), m.EntriesStarted, m.EntriesCompleted,
		m.CompletionRate, m.AvgCompletionTime, m.AvgEntryLength, m.ComputedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert completion metrics: %w", err)
	}

	stored, err := r.FindCompletion(ctx, m.MetricDate)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("completion metrics not found after insert: %s", m.MetricDate.Format(time.DateOnly))
	}
	return stored, nil
}

// DeleteProvisional は期間中に計算され、かつ期間がnowまでに終了した集計行を削除する。
// 期間の終了は最終日の翌日0時（UTC）とする。
func (r *PostgresRollupRepo) DeleteProvisional(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	periodResult, err := tx.ExecContext(ctx,
		`DELETE FROM period_metrics
		 WHERE computed_at < ((period_end + 1)::timestamp AT TIME ZONE 'UTC')
		   AND ((period_end + 1)::timestamp AT TIME ZONE 'UTC') <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provisional period metrics: %w", err)
	}
	periodDeleted, err := periodResult.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	completionResult, err := tx.ExecContext(ctx,
		`DELETE FROM completion_metrics
		 WHERE computed_at < ((metric_date + 1)::timestamp AT TIME ZONE 'UTC')
		   AND ((metric_date + 1)::timestamp AT TIME ZONE 'UTC') <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provisional completion metrics: %w", err)
	}
	completionDeleted, err := completionResult.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return periodDeleted + completionDeleted, nil
}

// compile-time interface check
var _ RollupRepository = (*PostgresRollupRepo)(nil)
