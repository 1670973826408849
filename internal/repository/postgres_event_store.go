package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// PostgresEventStore はPostgreSQL上の生イベントに対する集計クエリを提供する。
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore はPostgresEventStoreを生成する。
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// ReadSnapshot はREPEATABLE READの読み取り専用トランザクション内でfnを実行する。
// fnに渡すEventReaderの全クエリは同じスナップショットを参照する。
func (s *PostgresEventStore) ReadSnapshot(ctx context.Context, fn func(r EventReader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&eventQueries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// eventQueries はquerier上でEventReaderを実装する。
type eventQueries struct {
	q querier
}

func (e *eventQueries) count(ctx context.Context, what, query string, args ...any) (int, error) {
	var n int
	if err := e.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return n, nil
}

// CountActiveUsers は範囲内にセッションを開始したユーザーの重複なし数を返す。
func (e *eventQueries) CountActiveUsers(ctx context.Context, from, to time.Time) (int, error) {
	return e.count(ctx, "active users",
		`SELECT COUNT(DISTINCT user_id) FROM user_sessions
		 WHERE session_start >= $1 AND session_start < $2`,
		from, to,
	)
}

// CountNewUsers は範囲内に作成されたユーザー数を返す。
func (e *eventQueries) CountNewUsers(ctx context.Context, from, to time.Time) (int, error) {
	return e.count(ctx, "new users",
		`SELECT COUNT(*) FROM users
		 WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	)
}

// CountSessions は範囲内に開始したセッション数を返す。
func (e *eventQueries) CountSessions(ctx context.Context, from, to time.Time) (int, error) {
	return e.count(ctx, "sessions",
		`SELECT COUNT(*) FROM user_sessions
		 WHERE session_start >= $1 AND session_start < $2`,
		from, to,
	)
}

// AvgSessionDuration は利用時間が記録されたセッションの平均を返す。対象がない場合はnilを返す。
func (e *eventQueries) AvgSessionDuration(ctx context.Context, from, to time.Time) (*float64, error) {
	var avg sql.NullFloat64
	err := e.q.QueryRowContext(ctx,
		`SELECT AVG(duration_seconds)::float8 FROM user_sessions
		 WHERE session_start >= $1 AND session_start < $2 AND duration_seconds IS NOT NULL`,
		from, to,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to average session duration: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// CountRetainedUsers はコホート内のユーザーのうち範囲内にセッションを開始したユーザー数を返す。
func (e *eventQueries) CountRetainedUsers(ctx context.Context, cohortFrom, cohortTo, from, to time.Time) (int, error) {
	return e.count(ctx, "retained users",
		`SELECT COUNT(DISTINCT s.user_id)
		 FROM user_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE u.created_at >= $1 AND u.created_at < $2
		   AND s.session_start >= $3 AND s.session_start < $4`,
		cohortFrom, cohortTo, from, to,
	)
}

// EntryStats は範囲内に作成されたジャーナルの完了状況を返す。
func (e *eventQueries) EntryStats(ctx context.Context, from, to time.Time) (*EntryStats, error) {
	stats := &EntryStats{}
	var avgCompletion, avgLength sql.NullFloat64
	err := e.q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_completed),
		        AVG(completion_time)::float8,
		        AVG(entry_length)::float8
		 FROM journal_entries
		 WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	).Scan(&stats.Started, &stats.Completed, &avgCompletion, &avgLength)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate journal entries: %w", err)
	}
	if avgCompletion.Valid {
		stats.AvgCompletionTime = &avgCompletion.Float64
	}
	if avgLength.Valid {
		stats.AvgEntryLength = &avgLength.Float64
	}
	return stats, nil
}

// UsageByFeature は範囲内の機能別利用回数と平均利用時間を返す。
// 利用回数の多い順に並べる。
func (e *eventQueries) UsageByFeature(ctx context.Context, from, to time.Time) ([]model.FeatureUsageStat, error) {
	rows, err := e.q.QueryContext(ctx,
		`SELECT feature_name, COUNT(*), AVG(duration_seconds)::float8
		 FROM feature_usage_events
		 WHERE occurred_at >= $1 AND occurred_at < $2
		 GROUP BY feature_name
		 ORDER BY COUNT(*) DESC, feature_name`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage by feature: %w", err)
	}
	defer rows.Close()

	var stats []model.FeatureUsageStat
	for rows.Next() {
		var st model.FeatureUsageStat
		var avg sql.NullFloat64
		if err := rows.Scan(&st.FeatureName, &st.UsageCount, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan usage by feature: %w", err)
		}
		if avg.Valid {
			v := avg.Float64
			st.AvgDuration = &v
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage by feature: %w", err)
	}
	return stats, nil
}

// UsageByHour は範囲内の時間帯（UTC）別利用回数を返す。利用のない時間帯は含まない。
func (e *eventQueries) UsageByHour(ctx context.Context, from, to time.Time) ([]model.HourlyUsageStat, error) {
	rows, err := e.q.QueryContext(ctx,
		`SELECT EXTRACT(HOUR FROM occurred_at AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		 FROM feature_usage_events
		 WHERE occurred_at >= $1 AND occurred_at < $2
		 GROUP BY hour
		 ORDER BY hour`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage by hour: %w", err)
	}
	defer rows.Close()

	var stats []model.HourlyUsageStat
	for rows.Next() {
		var st model.HourlyUsageStat
		if err := rows.Scan(&st.Hour, &st.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan usage by hour: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage by hour: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var (
	_ SnapshotReader = (*PostgresEventStore)(nil)
	_ EventReader    = (*eventQueries)(nil)
	_ querier        = (*sql.DB)(nil)
	_ querier        = (*sql.Tx)(nil)
)
