// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeInvalidParameter   = "INVALID_PARAMETER"
	ErrCodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	ErrCodeInvalidPeriodKind  = "INVALID_PERIOD_KIND"
	ErrCodeEntryNotFound      = "ENTRY_NOT_FOUND"
)

// NewUnauthenticatedError はユーザー識別ヘッダーがない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ユーザーIDが指定されていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザー登録を行ってから再度お試しください。",
	}
}

// NewInvalidDateError は日付の形式が不正な場合のエラーを生成する。
func NewInvalidDateError(field, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("日付の形式が不正です: %s=%q", field, value),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidParameterError はパラメータが不正な場合のエラーを生成する。
func NewInvalidParameterError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("パラメータが不正です: %s (%s)", field, reason),
		Category: "validation",
		Action:   "パラメータの値を確認してください。",
	}
}

// NewInvalidRequestBodyError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequestBody,
		Message:  "リクエストボディが不正です。",
		Category: "validation",
		Action:   "JSON形式のリクエストボディを送信してください。",
	}
}

// NewInvalidPeriodKindError は集計期間の種別が不正な場合のエラーを生成する。
func NewInvalidPeriodKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPeriodKind,
		Message:  fmt.Sprintf("無効な集計期間です: %s", kind),
		Category: "validation",
		Action:   "集計期間には daily、weekly、monthly のいずれかを指定してください。",
	}
}

// NewEntryNotFoundError は指定日のジャーナルが見つからない場合のエラーを生成する。
func NewEntryNotFoundError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("ジャーナルが見つかりません: %s", date),
		Category: "validation",
		Action:   "日付を確認してください。",
	}
}
