package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/diary/internal/model"
)

const userColumns = `id, external_id, email, name, picture, email_verified, preferences, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// CreateIfAbsent はexternal_idが未登録の場合のみユーザーを作成する。
// UNIQUE(external_id)制約とON CONFLICT DO NOTHINGで同時登録の競合を吸収する。
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, bool, error) {
	prefs := user.Preferences
	if len(prefs) == 0 {
		prefs = json.RawMessage(`{}`)
	}

	created, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, external_id, email, name, picture, email_verified, preferences, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING `+userColumns,
		user.ID, user.ExternalID, user.Email, user.Name, user.Picture,
		user.EmailVerified, []byte(prefs), user.CreatedAt, user.UpdatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}

	existing, err := r.FindByExternalID(ctx, user.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("user disappeared after conflict: %s", user.ExternalID)
	}
	return existing, false, nil
}

// Update はname・picture・email_verified・preferencesを上書きする。
// external_idとemailは変更しない。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) (*model.User, error) {
	prefs := user.Preferences
	if len(prefs) == 0 {
		prefs = json.RawMessage(`{}`)
	}

	updated, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		    name = $2, picture = $3, email_verified = $4, preferences = $5, updated_at = $6
		 WHERE id = $1
		 RETURNING `+userColumns,
		user.ID, user.Name, user.Picture, user.EmailVerified, []byte(prefs), user.UpdatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return updated, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var prefs []byte
	err := row.Scan(
		&user.ID, &user.ExternalID, &user.Email, &user.Name, &user.Picture,
		&user.EmailVerified, &prefs, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Preferences = json.RawMessage(prefs)
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
