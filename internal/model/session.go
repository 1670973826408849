package model

import "time"

// Device type values derived from the User-Agent header.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Session はアプリの利用セッションを表す。
// EndTimeとDurationSecondsは同時に一度だけ設定される。
type Session struct {
	ID              string
	UserID          string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds *float64
	IPAddress       string
	UserAgent       string
	DeviceType      string
}

// IsOpen はセッションがまだ終了していないかどうかを返す。
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// ClientMeta はセッション開始時のクライアント情報を表す。
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
