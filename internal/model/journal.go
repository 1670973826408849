package model

import (
	"encoding/json"
	"time"
)

// Answers は質問への回答リストを表す。
// JSONの要素のうち文字列以外（nullや数値など）は読み飛ばす。
type Answers []string

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = nil
		return nil
	}
	out := make(Answers, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	*a = out
	return nil
}

// EntryContent は分類対象となるジャーナル本文を表す。
// 未入力のフィールドはnilまたは空のまま扱う。
type EntryContent struct {
	GratitudeAnswers Answers
	Emotion          *string
	EmotionAnswers   Answers
	CustomText       *string
	VisualSettings   json.RawMessage
}

// JournalEntry はユーザーごと・日付ごとに1件のジャーナルを表す。
type JournalEntry struct {
	ID             string
	UserID         string
	EntryDate      time.Time
	Content        EntryContent
	EntryLength    int
	IsCompleted    bool
	CompletionTime *float64 // 秒
	SessionID      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JournalEntryPage はジャーナル一覧の1ページ分を表す。
type JournalEntryPage struct {
	Entries    []*JournalEntry
	Page       int
	PageSize   int
	TotalItems int
}

// TotalPages は総ページ数を返す。
func (p *JournalEntryPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.TotalItems + p.PageSize - 1) / p.PageSize
}

// HasNext は次のページがあるかどうかを返す。
func (p *JournalEntryPage) HasNext() bool {
	return p.Page < p.TotalPages()
}

// HasPrevious は前のページがあるかどうかを返す。
func (p *JournalEntryPage) HasPrevious() bool {
	return p.Page > 1
}
