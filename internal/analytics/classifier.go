// Package analytics はジャーナル利用状況の集計エンジンを提供する。
// 生イベント（セッション、機能利用、ジャーナル）から期間別の指標、
// 継続率曲線、利用パターン、完了率を算出する。
package analytics

import (
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/diary/internal/model"
)

// ClassifyEntry はジャーナル本文から文字数と完了状態を算出する。
// 文字数は自由記述・感謝の回答・感情の回答の文字（rune）数の合計。
// 自由記述か感謝の回答のいずれかが空でなければ完了とみなす。
// 感情の回答だけでは完了にならない。
func ClassifyEntry(content model.EntryContent) (entryLength int, isCompleted bool) {
	if content.CustomText != nil {
		entryLength += utf8.RuneCountInString(*content.CustomText)
		if *content.CustomText != "" {
			isCompleted = true
		}
	}
	for _, a := range content.GratitudeAnswers {
		entryLength += utf8.RuneCountInString(a)
		if a != "" {
			isCompleted = true
		}
	}
	for _, a := range content.EmotionAnswers {
		entryLength += utf8.RuneCountInString(a)
	}
	return entryLength, isCompleted
}

// DetectDeviceType はUser-Agentから端末種別を判定する。
func DetectDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return model.DeviceMobile
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return model.DeviceTablet
	default:
		return model.DeviceDesktop
	}
}
