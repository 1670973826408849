// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/diary/internal/model"
)

// UserIDHeader は上流の認証基盤が付与する外部ユーザーIDのヘッダー。
const UserIDHeader = "X-User-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストに内部ユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// UserResolver は外部IDから内部ユーザーIDを解決するインターフェース。
// 未登録の場合はUSER_NOT_FOUNDのAPIErrorを返す。
type UserResolver interface {
	ResolveExternalID(ctx context.Context, externalID string) (string, error)
}

// NewIdentityMiddleware はX-User-IDヘッダーから呼び出し元ユーザーを特定し、
// 内部ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合と未登録ユーザーの場合は401を返す。
func NewIdentityMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if externalID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			userID, err := resolver.ResolveExternalID(r.Context(), externalID)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
					return
				}
				slog.Error("failed to resolve user",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// UserIDFromContext はリクエストコンテキストから内部ユーザーIDを取得する。
// IdentityMiddlewareを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
