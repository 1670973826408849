package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// 一覧取得のページサイズ上限と既定値。
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// JournalEntry はユーザーの指定日のジャーナルを返す。
// 見つからない場合はENTRY_NOT_FOUNDを返す。
func (s *Service) JournalEntry(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error) {
	day := DateOf(date)
	entry, err := s.entries.FindByDate(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("ジャーナルの取得に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, model.NewEntryNotFoundError(day.Format(time.DateOnly))
	}
	return entry, nil
}

// ListJournalEntries はユーザーのジャーナルを新しい日付順にページ単位で返す。
// pageは1始まり、pageSizeは1〜MaxPageSize。
func (s *Service) ListJournalEntries(ctx context.Context, userID string, page, pageSize int) (*model.JournalEntryPage, error) {
	if page < 1 {
		return nil, model.NewInvalidParameterError("page", "gte=1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, model.NewInvalidParameterError("page_size", fmt.Sprintf("between 1 and %d", MaxPageSize))
	}

	entries, total, err := s.entries.List(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("ジャーナル一覧の取得に失敗しました: %w", err)
	}
	return &model.JournalEntryPage{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
	}, nil
}
