package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した利用セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, session_start, ip_address, user_agent, device_type)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.UserID, session.StartTime,
		session.IPAddress, session.UserAgent, session.DeviceType,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var endTime sql.NullTime
	var duration sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_start, session_end, duration_seconds, ip_address, user_agent, device_type
		 FROM user_sessions
		 WHERE id = $1`,
		id,
	).Scan(
		&session.ID, &session.UserID, &session.StartTime,
		&endTime, &duration,
		&session.IPAddress, &session.UserAgent, &session.DeviceType,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	if duration.Valid {
		session.DurationSeconds = &duration.Float64
	}

	return session, nil
}

// Close は未終了のセッションに終了時刻と利用時間を設定する。
// session_end IS NULL を条件に含めるため、同時に呼ばれても一度だけ設定される。
func (r *PostgresSessionRepo) Close(ctx context.Context, id string, endTime time.Time, durationSeconds float64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET session_end = $2, duration_seconds = $3
		 WHERE id = $1 AND session_end IS NULL`,
		id, endTime, durationSeconds,
	)
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
