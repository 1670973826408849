package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/diary/internal/middleware"
	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register は外部IDでユーザーを登録する。登録済みなら既存ユーザーを返す。
	Register(ctx context.Context, in user.RegisterInput) (*model.User, bool, error)
	// Get は内部IDでユーザーを取得する。見つからない場合はUSER_NOT_FOUNDを返す。
	Get(ctx context.Context, userID string) (*model.User, error)
	// Update はプロフィールと設定を部分更新する。
	Update(ctx context.Context, userID string, in user.UpdateInput) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type registerUserRequest struct {
	ExternalID    string          `json:"-" validate:"required,max=128"`
	Email         string          `json:"email" validate:"required,email,max=255"`
	Name          string          `json:"name" validate:"max=200"`
	Picture       string          `json:"picture" validate:"omitempty,url,max=2048"`
	EmailVerified bool            `json:"email_verified"`
	Preferences   json.RawMessage `json:"preferences"`
}

// updateUserRequest はnilのフィールドを変更しない部分更新リクエスト。
type updateUserRequest struct {
	Name          *string         `json:"name" validate:"omitempty,max=200"`
	Picture       *string         `json:"picture" validate:"omitempty,url,max=2048"`
	EmailVerified *bool           `json:"email_verified"`
	Preferences   json.RawMessage `json:"preferences"`
}

type userResponse struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Picture       string          `json:"picture"`
	EmailVerified bool            `json:"email_verified"`
	Preferences   json.RawMessage `json:"preferences"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Register はユーザーを登録する。外部IDはX-User-IDヘッダーで受け取る。
// 新規作成時は201、登録済みの場合は200を返す。
// POST /users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	req.ExternalID = strings.TrimSpace(r.Header.Get(middleware.UserIDHeader))
	if req.ExternalID == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if len(req.Preferences) > 0 && !json.Valid(req.Preferences) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestBodyError())
		return
	}

	u, created, err := h.service.Register(r.Context(), user.RegisterInput{
		ExternalID:    req.ExternalID,
		Email:         req.Email,
		Name:          req.Name,
		Picture:       req.Picture,
		EmailVerified: req.EmailVerified,
		Preferences:   req.Preferences,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toUserResponse(u))
}

// Me は呼び出し元ユーザーの情報を返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMe は呼び出し元ユーザーのプロフィールと設定を更新する。
// preferencesはJSONオブジェクトのみ受け付け、指定時は丸ごと置き換える。
// PUT /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	prefs := bytes.TrimSpace(req.Preferences)
	if bytes.Equal(prefs, []byte("null")) {
		prefs = nil
	}
	if len(prefs) > 0 && (prefs[0] != '{' || !json.Valid(prefs)) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("preferences", "object"))
		return
	}

	u, err := h.service.Update(r.Context(), userID, user.UpdateInput{
		Name:          req.Name,
		Picture:       req.Picture,
		EmailVerified: req.EmailVerified,
		Preferences:   prefs,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func toUserResponse(u *model.User) userResponse {
	prefs := u.Preferences
	if len(prefs) == 0 {
		prefs = json.RawMessage(`{}`)
	}
	return userResponse{
		ID:            u.ID,
		ExternalID:    u.ExternalID,
		Email:         u.Email,
		Name:          u.Name,
		Picture:       u.Picture,
		EmailVerified: u.EmailVerified,
		Preferences:   prefs,
		CreatedAt:     u.CreatedAt,
	}
}
