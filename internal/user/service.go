// Package user はユーザー登録のドメインロジックを提供する。
package user

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
	"github.com/hitoshi/diary/internal/security"
)

// RegisterInput はユーザー登録要求を表す。
// ExternalIDは上流の認証基盤が発行する識別子。
type RegisterInput struct {
	ExternalID    string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
	Preferences   json.RawMessage
}

// UpdateInput はプロフィール更新要求を表す。
// nilのフィールドは変更しない。
type UpdateInput struct {
	Name          *string
	Picture       *string
	EmailVerified *bool
	Preferences   json.RawMessage
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Register はユーザーを登録する。
// 同じExternalIDで既に登録されている場合は既存のユーザーをそのまま返す。
// 戻り値のboolは今回新たに作成したかどうか。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, bool, error) {
	externalID := strings.TrimSpace(in.ExternalID)
	if externalID == "" {
		return nil, false, model.NewInvalidParameterError("external_id", "required")
	}

	existing, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	prefs := in.Preferences
	if len(prefs) == 0 {
		prefs = json.RawMessage(`{}`)
	}

	now := s.now().UTC()
	u := &model.User{
		ID:            uuid.New().String(),
		ExternalID:    externalID,
		Email:         strings.TrimSpace(in.Email),
		Name:          s.sanitizer.Sanitize(in.Name),
		Picture:       strings.TrimSpace(in.Picture),
		EmailVerified: in.EmailVerified,
		Preferences:   prefs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	saved, created, err := s.userRepo.CreateIfAbsent(ctx, u)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	if created {
		slog.Info("ユーザーを登録しました",
			slog.String("user_id", saved.ID),
		)
	}
	return saved, created, nil
}

// ResolveExternalID は外部IDから内部ユーザーIDを解決する。
// 未登録の場合はUSER_NOT_FOUNDエラーを返す。
func (s *Service) ResolveExternalID(ctx context.Context, externalID string) (string, error) {
	u, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return "", model.NewUserNotFoundError()
	}
	return u.ID, nil
}

// Get は内部IDでユーザーを取得する。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// Update は呼び出し元ユーザーのプロフィールと設定を部分更新する。
// Preferencesは指定された場合に丸ごと置き換える。
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Name != nil {
		u.Name = s.sanitizer.Sanitize(*in.Name)
	}
	if in.Picture != nil {
		u.Picture = strings.TrimSpace(*in.Picture)
	}
	if in.EmailVerified != nil {
		u.EmailVerified = *in.EmailVerified
	}
	if len(in.Preferences) > 0 {
		u.Preferences = in.Preferences
	}
	u.UpdatedAt = s.now().UTC()

	updated, err := s.userRepo.Update(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}
	return updated, nil
}
