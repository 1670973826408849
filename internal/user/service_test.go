package user

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/security"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByExternalIDFn func(ctx context.Context, externalID string) (*model.User, error)
	createIfAbsentFn   func(ctx context.Context, user *model.User) (*model.User, bool, error)
	updateFn           func(ctx context.Context, user *model.User) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if m.findByExternalIDFn != nil {
		return m.findByExternalIDFn(ctx, externalID)
	}
	return nil, nil
}
func (m *mockUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, bool, error) {
	if m.createIfAbsentFn != nil {
		return m.createIfAbsentFn(ctx, user)
	}
	return user, true, nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *model.User) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, user)
	}
	return user, nil
}

// --- テスト ---

func TestService_Register_CreatesUser(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createIfAbsentFn: func(ctx context.Context, user *model.User) (*model.User, bool, error) {
			created = user
			return user, true, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

	u, isNew, err := svc.Register(context.Background(), RegisterInput{
		ExternalID:    " ext-123 ",
		Email:         "taro@example.com",
		Name:          "<b>Taro</b>",
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !isNew {
		t.Error("isNew = false, want true")
	}
	if created == nil {
		t.Fatal("CreateIfAbsent should be called")
	}
	if u.ExternalID != "ext-123" {
		t.Errorf("ExternalID = %q, want %q", u.ExternalID, "ext-123")
	}
	if u.Name != "Taro" {
		t.Errorf("Name = %q, want %q", u.Name, "Taro")
	}
	if string(u.Preferences) != "{}" {
		t.Errorf("Preferences = %s, want {}", u.Preferences)
	}
	if u.ID == "" {
		t.Error("ID should be generated")
	}
	if !u.CreatedAt.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", u.CreatedAt)
	}
}

// TestService_Register_Existing は登録済みの外部IDで既存ユーザーを返すことを検証する。
func TestService_Register_Existing(t *testing.T) {
	existing := &model.User{ID: "user-1", ExternalID: "ext-123", Name: "Taro"}
	createCalled := false
	repo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			if externalID == "ext-123" {
				return existing, nil
			}
			return nil, nil
		},
		createIfAbsentFn: func(ctx context.Context, user *model.User) (*model.User, bool, error) {
			createCalled = true
			return user, true, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	u, isNew, err := svc.Register(context.Background(), RegisterInput{ExternalID: "ext-123", Name: "Other"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if isNew {
		t.Error("isNew = true, want false")
	}
	if u.ID != "user-1" || u.Name != "Taro" {
		t.Errorf("user = %+v, want existing", u)
	}
	if createCalled {
		t.Error("CreateIfAbsent should not be called for an existing user")
	}
}

// TestService_Register_LostRace は同時登録で競合した場合に先に保存された行を返すことを検証する。
func TestService_Register_LostRace(t *testing.T) {
	winner := &model.User{ID: "user-winner", ExternalID: "ext-123"}
	repo := &mockUserRepo{
		createIfAbsentFn: func(ctx context.Context, user *model.User) (*model.User, bool, error) {
			return winner, false, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	u, isNew, err := svc.Register(context.Background(), RegisterInput{
		ExternalID:  "ext-123",
		Preferences: json.RawMessage(`{"theme":"dark"}`),
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if isNew || u.ID != "user-winner" {
		t.Errorf("Register() = (%+v, %v), want winner row and false", u, isNew)
	}
}

func TestService_Register_MissingExternalID(t *testing.T) {
	svc := NewService(&mockUserRepo{}, security.NewTextSanitizer())

	_, _, err := svc.Register(context.Background(), RegisterInput{ExternalID: "  "})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeInvalidParameter {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidParameter)
	}
}

func TestService_Register_RepoError(t *testing.T) {
	repoErr := errors.New("db down")
	repo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			return nil, repoErr
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	_, _, err := svc.Register(context.Background(), RegisterInput{ExternalID: "ext-1"})
	if !errors.Is(err, repoErr) {
		t.Errorf("err = %v, want wrapped %v", err, repoErr)
	}
}

func TestService_ResolveExternalID(t *testing.T) {
	repo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			if externalID == "ext-1" {
				return &model.User{ID: "user-1", ExternalID: "ext-1"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	id, err := svc.ResolveExternalID(context.Background(), "ext-1")
	if err != nil || id != "user-1" {
		t.Errorf("ResolveExternalID(ext-1) = (%q, %v), want (user-1, nil)", id, err)
	}

	_, err = svc.ResolveExternalID(context.Background(), "unknown")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_Get(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: "user-1"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	u, err := svc.Get(context.Background(), "user-1")
	if err != nil || u.ID != "user-1" {
		t.Errorf("Get(user-1) = (%+v, %v)", u, err)
	}

	_, err = svc.Get(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_Update_PartialFields(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	existing := &model.User{
		ID:          "u-1",
		ExternalID:  "ext-1",
		Email:       "taro@example.com",
		Name:        "Taro",
		Picture:     "https://example.com/old.png",
		Preferences: json.RawMessage(`{"theme":"light"}`),
		CreatedAt:   now.AddDate(0, -1, 0),
	}
	var saved *model.User
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id != "u-1" {
				t.Errorf("FindByID(%q), want u-1", id)
			}
			return existing, nil
		},
		updateFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			saved = user
			return user, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())
	svc.now = func() time.Time { return now }

	name := "<i>Jiro</i>"
	verified := true
	u, err := svc.Update(context.Background(), "u-1", UpdateInput{
		Name:          &name,
		EmailVerified: &verified,
		Preferences:   json.RawMessage(`{"theme":"dark"}`),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if saved == nil {
		t.Fatal("repository Update should be called")
	}
	if u.Name != "Jiro" {
		t.Errorf("Name = %q, want sanitized %q", u.Name, "Jiro")
	}
	if u.Picture != "https://example.com/old.png" {
		t.Errorf("Picture = %q, want unchanged", u.Picture)
	}
	if !u.EmailVerified {
		t.Error("EmailVerified = false, want true")
	}
	if string(u.Preferences) != `{"theme":"dark"}` {
		t.Errorf("Preferences = %s, want replaced", u.Preferences)
	}
	if !u.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", u.UpdatedAt, now)
	}
}

func TestService_Update_UnknownUser(t *testing.T) {
	svc := NewService(&mockUserRepo{}, security.NewTextSanitizer())

	_, err := svc.Update(context.Background(), "missing", UpdateInput{})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("error = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_Update_RepositoryError(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		updateFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	if _, err := svc.Update(context.Background(), "u-1", UpdateInput{}); err == nil {
		t.Error("expected error when repository fails")
	}
}
