package analytics

import (
	"encoding/json"
	"testing"

	"github.com/hitoshi/diary/internal/model"
)

func strPtr(s string) *string { return &s }

func TestClassifyEntry(t *testing.T) {
	tests := []struct {
		name          string
		content       model.EntryContent
		wantLength    int
		wantCompleted bool
	}{
		{
			name: "感謝の回答と自由記述",
			content: model.EntryContent{
				GratitudeAnswers: model.Answers{"a", "bb"},
				CustomText:       strPtr("hello"),
			},
			wantLength:    8,
			wantCompleted: true,
		},
		{
			name: "感情の回答だけでは完了にならない",
			content: model.EntryContent{
				EmotionAnswers: model.Answers{"happy"},
			},
			wantLength:    5,
			wantCompleted: false,
		},
		{
			name:          "空のエントリ",
			content:       model.EntryContent{},
			wantLength:    0,
			wantCompleted: false,
		},
		{
			name: "空文字の回答のみ",
			content: model.EntryContent{
				GratitudeAnswers: model.Answers{"", ""},
				CustomText:       strPtr(""),
			},
			wantLength:    0,
			wantCompleted: false,
		},
		{
			name: "マルチバイト文字はrune単位で数える",
			content: model.EntryContent{
				CustomText: strPtr("ありがとう"),
			},
			wantLength:    5,
			wantCompleted: true,
		},
		{
			name: "全フィールドの合計",
			content: model.EntryContent{
				GratitudeAnswers: model.Answers{"家族"},
				EmotionAnswers:   model.Answers{"calm", "ok"},
				CustomText:       strPtr("x"),
			},
			wantLength:    9,
			wantCompleted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLength, gotCompleted := ClassifyEntry(tt.content)
			if gotLength != tt.wantLength {
				t.Errorf("entryLength = %d, want %d", gotLength, tt.wantLength)
			}
			if gotCompleted != tt.wantCompleted {
				t.Errorf("isCompleted = %v, want %v", gotCompleted, tt.wantCompleted)
			}
		})
	}
}

// TestClassifyEntry_SkipsNonStringAnswers はJSON上の文字列以外の要素がエラーにならず無視されることを検証する。
func TestClassifyEntry_SkipsNonStringAnswers(t *testing.T) {
	var content struct {
		GratitudeAnswers model.Answers `json:"gratitude_answers"`
	}
	if err := json.Unmarshal([]byte(`{"gratitude_answers": ["a", null, 3, {"x": 1}, "bb"]}`), &content); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}

	length, completed := ClassifyEntry(model.EntryContent{GratitudeAnswers: content.GratitudeAnswers})
	if length != 3 {
		t.Errorf("entryLength = %d, want 3", length)
	}
	if !completed {
		t.Error("isCompleted = false, want true")
	}
}

func TestDetectDeviceType(t *testing.T) {
	tests := []struct {
		userAgent string
		want      string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", model.DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", model.DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", model.DeviceTablet},
		{"SomeTablet Browser/1.0", model.DeviceTablet},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", model.DeviceDesktop},
		{"", model.DeviceDesktop},
	}
	for _, tt := range tests {
		if got := DetectDeviceType(tt.userAgent); got != tt.want {
			t.Errorf("DetectDeviceType(%q) = %q, want %q", tt.userAgent, got, tt.want)
		}
	}
}
