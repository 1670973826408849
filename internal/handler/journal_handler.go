package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/model"
)

// JournalServiceInterface はジャーナル参照ハンドラーが必要とするサービスインターフェース。
type JournalServiceInterface interface {
	JournalEntry(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error)
	ListJournalEntries(ctx context.Context, userID string, page, pageSize int) (*model.JournalEntryPage, error)
}

// JournalHandler は保存済みジャーナルを参照するHTTPハンドラー。
type JournalHandler struct {
	service JournalServiceInterface
}

// NewJournalHandler はJournalHandlerを生成する。
func NewJournalHandler(service JournalServiceInterface) *JournalHandler {
	return &JournalHandler{service: service}
}

type journalListQuery struct {
	Page     int `query:"page" validate:"gte=1"`
	PageSize int `query:"page_size" validate:"gte=1,lte=100"`
}

type journalEntryDetailResponse struct {
	ID               string          `json:"id"`
	EntryDate        string          `json:"entry_date"`
	GratitudeAnswers []string        `json:"gratitude_answers"`
	Emotion          *string         `json:"emotion"`
	EmotionAnswers   []string        `json:"emotion_answers"`
	CustomText       *string         `json:"custom_text"`
	VisualSettings   json.RawMessage `json:"visual_settings"`
	EntryLength      int             `json:"entry_length"`
	IsCompleted      bool            `json:"is_completed"`
	CompletionTime   *float64        `json:"completion_time"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type paginationResponse struct {
	CurrentPage int  `json:"current_page"`
	PageSize    int  `json:"page_size"`
	TotalPages  int  `json:"total_pages"`
	TotalItems  int  `json:"total_items"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

type journalEntryListResponse struct {
	Entries    []journalEntryDetailResponse `json:"entries"`
	Pagination paginationResponse           `json:"pagination"`
}

// GetEntry は指定日のジャーナルを返す。
// GET /journal-entry/{entry_date}
func (h *JournalHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	raw := chi.URLParam(r, "entry_date")
	if apiErr := validateRequest(struct {
		EntryDate string `json:"entry_date" validate:"required,datetime=2006-01-02"`
	}{raw}); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	entry, err := h.service.JournalEntry(r.Context(), userID, *parseDate(raw))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toJournalEntryDetail(entry))
}

// ListEntries は呼び出し元のジャーナルを新しい日付順にページ単位で返す。
// GET /journal-entries?page=1&page_size=10
func (h *JournalHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := journalListQuery{Page: 1, PageSize: analytics.DefaultPageSize}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page", &q.Page},
		{"page_size", &q.PageSize},
	} {
		raw := firstQuery(r, p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError(p.name, "integer"))
			return
		}
		*p.dst = n
	}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	page, err := h.service.ListJournalEntries(r.Context(), userID, q.Page, q.PageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := journalEntryListResponse{
		Entries: make([]journalEntryDetailResponse, 0, len(page.Entries)),
		Pagination: paginationResponse{
			CurrentPage: page.Page,
			PageSize:    page.PageSize,
			TotalPages:  page.TotalPages(),
			TotalItems:  page.TotalItems,
			HasNext:     page.HasNext(),
			HasPrevious: page.HasPrevious(),
		},
	}
	for _, e := range page.Entries {
		resp.Entries = append(resp.Entries, toJournalEntryDetail(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toJournalEntryDetail(e *model.JournalEntry) journalEntryDetailResponse {
	gratitude := []string(e.Content.GratitudeAnswers)
	if gratitude == nil {
		gratitude = []string{}
	}
	emotionAnswers := []string(e.Content.EmotionAnswers)
	if emotionAnswers == nil {
		emotionAnswers = []string{}
	}
	return journalEntryDetailResponse{
		ID:               e.ID,
		EntryDate:        e.EntryDate.Format(time.DateOnly),
		GratitudeAnswers: gratitude,
		Emotion:          e.Content.Emotion,
		EmotionAnswers:   emotionAnswers,
		CustomText:       e.Content.CustomText,
		VisualSettings:   e.Content.VisualSettings,
		EntryLength:      e.EntryLength,
		IsCompleted:      e.IsCompleted,
		CompletionTime:   e.CompletionTime,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}
