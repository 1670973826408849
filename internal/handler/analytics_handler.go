package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/model"
)

// AnalyticsServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	StartSession(ctx context.Context, userID string, meta model.ClientMeta) (*model.Session, error)
	EndSession(ctx context.Context, userID, sessionID string) error
	RecordFeatureUsage(ctx context.Context, in analytics.FeatureUsageInput) (*model.FeatureUsageEvent, error)
	UpsertJournalEntry(ctx context.Context, in analytics.JournalEntryInput) (*model.JournalEntry, error)
	PeriodMetrics(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error)
	CompletionMetrics(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error)
	RetentionCurve(ctx context.Context, cohortDate time.Time, daysToTrack int) (*model.RetentionCurve, error)
	UsagePatterns(ctx context.Context, start, end *time.Time) (*model.UsagePatterns, error)
}

// AnalyticsHandler は利用イベントの記録と指標取得のHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// --- リクエスト ---

type featureUsageRequest struct {
	FeatureName     string         `json:"feature_name" validate:"required,max=100"`
	SessionID       *string        `json:"session_id" validate:"omitempty,uuid"`
	FeatureData     map[string]any `json:"feature_data"`
	DurationSeconds *float64       `json:"duration_seconds" validate:"omitempty,gte=0"`
}

type journalEntryRequest struct {
	EntryDate        *string         `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	GratitudeAnswers model.Answers   `json:"gratitude_answers"`
	Emotion          *string         `json:"emotion" validate:"omitempty,max=50"`
	EmotionAnswers   model.Answers   `json:"emotion_answers"`
	CustomText       *string         `json:"custom_text"`
	VisualSettings   json.RawMessage `json:"visual_settings"`
	SessionID        *string         `json:"session_id" validate:"omitempty,uuid"`
	CompletionTime   *float64        `json:"completion_time" validate:"omitempty,gte=0"`
}

type dateQuery struct {
	Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
}

type retentionQuery struct {
	CohortDate  string `query:"cohort_date" validate:"required,datetime=2006-01-02"`
	DaysToTrack int    `query:"days_to_track" validate:"gte=0,lte=365"`
}

type usageQuery struct {
	StartDate string `query:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `query:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// --- レスポンス ---

type sessionStartResponse struct {
	SessionID    string    `json:"session_id"`
	SessionStart time.Time `json:"session_start"`
	DeviceType   string    `json:"device_type"`
}

type featureUsageResponse struct {
	UsageID     string    `json:"usage_id"`
	FeatureName string    `json:"feature_name"`
	UsageTime   time.Time `json:"usage_time"`
}

type journalEntryResponse struct {
	EntryID        string   `json:"entry_id"`
	EntryDate      string   `json:"entry_date"`
	EntryLength    int      `json:"entry_length"`
	IsCompleted    bool     `json:"is_completed"`
	CompletionTime *float64 `json:"completion_time"`
}

type periodMetricsResponse struct {
	Kind               string    `json:"kind"`
	PeriodStart        string    `json:"period_start"`
	PeriodEnd          string    `json:"period_end"`
	ActiveUsers        int       `json:"active_users"`
	NewUsers           int       `json:"new_users"`
	ReturningUsers     int       `json:"returning_users"`
	TotalSessions      int       `json:"total_sessions"`
	AvgSessionDuration float64   `json:"avg_session_duration"`
	ComputedAt         time.Time `json:"computed_at"`
	IsFinal            bool      `json:"is_final"`
}

type completionMetricsResponse struct {
	Date                  string    `json:"date"`
	TotalEntriesStarted   int       `json:"total_entries_started"`
	TotalEntriesCompleted int       `json:"total_entries_completed"`
	CompletionRate        float64   `json:"completion_rate"`
	AvgCompletionTime     float64   `json:"avg_completion_time"`
	AvgEntryLength        float64   `json:"avg_entry_length"`
	ComputedAt            time.Time `json:"computed_at"`
	IsFinal               bool      `json:"is_final"`
}

type retentionResponse struct {
	CohortDate     string             `json:"cohort_date"`
	DaysToTrack    int                `json:"days_to_track"`
	CohortSize     int                `json:"cohort_size"`
	RetentionCurve map[string]float64 `json:"retention_curve"`
}

type featureUsageStat struct {
	Feature     string   `json:"feature"`
	Count       int      `json:"count"`
	AvgDuration *float64 `json:"avg_duration"`
}

type hourlyUsageStat struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type usagePatternsResponse struct {
	StartDate    string             `json:"start_date"`
	EndDate      string             `json:"end_date"`
	FeatureUsage []featureUsageStat `json:"feature_usage"`
	HourlyUsage  []hourlyUsageStat  `json:"hourly_usage"`
}

// --- 記録系 ---

// StartSession は利用セッションを開始する。
// POST /analytics/session/start
func (h *AnalyticsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.StartSession(r.Context(), userID, model.ClientMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionStartResponse{
		SessionID:    session.ID,
		SessionStart: session.StartTime,
		DeviceType:   session.DeviceType,
	})
}

// EndSession はセッションを終了する。未知のセッションや終了済みのセッションでも204を返す。
// POST /analytics/session/end/{session_id}
func (h *AnalyticsHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	if apiErr := validateRequest(struct {
		SessionID string `json:"session_id" validate:"required,uuid"`
	}{sessionID}); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.EndSession(r.Context(), userID, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordFeatureUsage は機能利用イベントを記録する。
// POST /analytics/feature/usage
func (h *AnalyticsHandler) RecordFeatureUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req featureUsageRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	req.FeatureName = strings.TrimSpace(req.FeatureName)
	if apiErr := validateRequest(&req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	event, err := h.service.RecordFeatureUsage(r.Context(), analytics.FeatureUsageInput{
		UserID:          userID,
		FeatureName:     req.FeatureName,
		SessionID:       req.SessionID,
		Payload:         model.Payload(req.FeatureData),
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, featureUsageResponse{
		UsageID:     event.ID,
		FeatureName: event.FeatureName,
		UsageTime:   event.OccurredAt,
	})
}

// RecordJournalEntry はジャーナルを保存し、文字数と完了状態を返す。
// POST /analytics/journal/entry
func (h *AnalyticsHandler) RecordJournalEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req journalEntryRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if len(req.VisualSettings) > 0 && !json.Valid(req.VisualSettings) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestBodyError())
		return
	}

	in := analytics.JournalEntryInput{
		UserID: userID,
		Content: model.EntryContent{
			GratitudeAnswers: req.GratitudeAnswers,
			Emotion:          req.Emotion,
			EmotionAnswers:   req.EmotionAnswers,
			CustomText:       req.CustomText,
			VisualSettings:   req.VisualSettings,
		},
		SessionID:      req.SessionID,
		CompletionTime: req.CompletionTime,
	}
	if req.EntryDate != nil {
		in.EntryDate = parseDate(*req.EntryDate)
	}

	entry, err := h.service.UpsertJournalEntry(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, journalEntryResponse{
		EntryID:        entry.ID,
		EntryDate:      entry.EntryDate.Format(time.DateOnly),
		EntryLength:    entry.EntryLength,
		IsCompleted:    entry.IsCompleted,
		CompletionTime: entry.CompletionTime,
	})
}

// --- 参照系 ---

// periodAliases はURLの期間名と、旧クライアントが使うクエリ名の対応。
var periodAliases = map[string]struct {
	kind  model.PeriodKind
	param string
}{
	"daily":   {model.PeriodDay, "target_date"},
	"weekly":  {model.PeriodWeek, "week_start"},
	"monthly": {model.PeriodMonth, "month_start"},
}

// GetPeriodMetrics は日・週・月単位の利用指標を返す。
// GET /analytics/metrics/{period}?date=YYYY-MM-DD
func (h *AnalyticsHandler) GetPeriodMetrics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "period")
	alias, ok := periodAliases[name]
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPeriodKindError(name))
		return
	}

	q := dateQuery{Date: firstQuery(r, "date", alias.param)}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	m, err := h.service.PeriodMetrics(r.Context(), alias.kind, parseDate(q.Date))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, periodMetricsResponse{
		Kind:               string(m.Kind),
		PeriodStart:        m.PeriodStart.Format(time.DateOnly),
		PeriodEnd:          m.PeriodEnd.Format(time.DateOnly),
		ActiveUsers:        m.ActiveUsers,
		NewUsers:           m.NewUsers,
		ReturningUsers:     m.ReturningUsers,
		TotalSessions:      m.TotalSessions,
		AvgSessionDuration: m.AvgSessionDuration,
		ComputedAt:         m.ComputedAt,
		IsFinal:            m.IsFinal(),
	})
}

// GetCompletionMetrics は日別のジャーナル完了率を返す。
// GET /analytics/metrics/completion?date=YYYY-MM-DD
func (h *AnalyticsHandler) GetCompletionMetrics(w http.ResponseWriter, r *http.Request) {
	q := dateQuery{Date: firstQuery(r, "date", "target_date")}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	m, err := h.service.CompletionMetrics(r.Context(), parseDate(q.Date))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completionMetricsResponse{
		Date:                  m.MetricDate.Format(time.DateOnly),
		TotalEntriesStarted:   m.EntriesStarted,
		TotalEntriesCompleted: m.EntriesCompleted,
		CompletionRate:        m.CompletionRate,
		AvgCompletionTime:     m.AvgCompletionTime,
		AvgEntryLength:        m.AvgEntryLength,
		ComputedAt:            m.ComputedAt,
		IsFinal:               m.IsFinal(),
	})
}

// GetRetentionCurve はコホートの継続率曲線を返す。
// GET /analytics/retention/curve?cohort_date=YYYY-MM-DD&days_to_track=30
func (h *AnalyticsHandler) GetRetentionCurve(w http.ResponseWriter, r *http.Request) {
	q := retentionQuery{
		CohortDate:  firstQuery(r, "cohort_date"),
		DaysToTrack: analytics.DefaultRetentionDays,
	}
	if raw := firstQuery(r, "days_to_track"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("days_to_track", "integer"))
			return
		}
		q.DaysToTrack = n
	}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	curve, err := h.service.RetentionCurve(r.Context(), *parseDate(q.CohortDate), q.DaysToTrack)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	points := make(map[string]float64, len(curve.Points))
	for _, p := range curve.Points {
		points[strconv.Itoa(p.Day)] = p.Percentage
	}
	writeJSON(w, http.StatusOK, retentionResponse{
		CohortDate:     curve.CohortDate.Format(time.DateOnly),
		DaysToTrack:    q.DaysToTrack,
		CohortSize:     curve.CohortSize,
		RetentionCurve: points,
	})
}

// GetUsagePatterns は機能別・時間帯別の利用分布を返す。
// GET /analytics/usage/patterns?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *AnalyticsHandler) GetUsagePatterns(w http.ResponseWriter, r *http.Request) {
	q := usageQuery{
		StartDate: firstQuery(r, "start_date"),
		EndDate:   firstQuery(r, "end_date"),
	}
	if apiErr := validateRequest(&q); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	start, end := parseDate(q.StartDate), parseDate(q.EndDate)
	if start != nil && end != nil && start.After(*end) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("start_date", "after end_date"))
		return
	}

	p, err := h.service.UsagePatterns(r.Context(), start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := usagePatternsResponse{
		StartDate:    p.StartDate.Format(time.DateOnly),
		EndDate:      p.EndDate.Format(time.DateOnly),
		FeatureUsage: make([]featureUsageStat, 0, len(p.ByFeature)),
		HourlyUsage:  make([]hourlyUsageStat, 0, len(p.ByHour)),
	}
	for _, f := range p.ByFeature {
		resp.FeatureUsage = append(resp.FeatureUsage, featureUsageStat{
			Feature:     f.FeatureName,
			Count:       f.UsageCount,
			AvgDuration: f.AvgDuration,
		})
	}
	for _, hr := range p.ByHour {
		resp.HourlyUsage = append(resp.HourlyUsage, hourlyUsageStat{Hour: hr.Hour, Count: hr.UsageCount})
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientIP はリクエスト元のIPアドレスを返す。
// リバースプロキシ経由の場合はX-Forwarded-Forの先頭を使う。
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
