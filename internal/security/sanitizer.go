// Package security はユーザー入力の無害化を提供する。
//
// 表示名や機能名などのプレーンテキストはbluemondayのStrictPolicyで
// すべてのタグを除去してから保存する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストを無害化するインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーは並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去する。
// StrictPolicyは&などをエスケープするため、保存用にエスケープを戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

var _ TextSanitizer = (*textSanitizer)(nil)
