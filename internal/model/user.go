// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// User はジャーナルを記録するユーザーを表す。
// ExternalIDは上流の認証基盤が発行する識別子で、登録後は変更されない。
type User struct {
	ID            string
	ExternalID    string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
	Preferences   json.RawMessage // 任意のJSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
