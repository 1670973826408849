package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/diary/internal/model"
)

// PostgresUsageEventRepo はPostgreSQLを使用した機能利用イベントリポジトリ。
type PostgresUsageEventRepo struct {
	db *sql.DB
}

// NewPostgresUsageEventRepo はPostgresUsageEventRepoを生成する。
func NewPostgresUsageEventRepo(db *sql.DB) *PostgresUsageEventRepo {
	return &PostgresUsageEventRepo{db: db}
}

// Create は機能利用イベントを追加する。
func (r *PostgresUsageEventRepo) Create(ctx context.Context, event *model.FeatureUsageEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feature_usage_events (id, user_id, session_id, feature_name, occurred_at, duration_seconds, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.UserID, event.SessionID, event.FeatureName,
		event.OccurredAt, event.DurationSeconds, event.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to create feature usage event: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UsageEventRepository = (*PostgresUsageEventRepo)(nil)
