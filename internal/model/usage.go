package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Payload は機能利用イベントに付随する任意のJSONオブジェクト。
type Payload map[string]any

// Value はdriver.Valuerを実装する。nilはSQL NULLとして保存する。
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// Scan はsql.Scannerを実装する。
func (p *Payload) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	return json.Unmarshal(b, p)
}

// FeatureUsageEvent は機能利用の記録を表す。作成後は変更されない。
type FeatureUsageEvent struct {
	ID              string
	UserID          string
	SessionID       *string
	FeatureName     string
	OccurredAt      time.Time
	DurationSeconds *float64
	Payload         Payload
}
