package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/middleware"
	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/user"
)

// --- モック定義 ---

type mockAnalyticsService struct {
	startSessionFn       func(ctx context.Context, userID string, meta model.ClientMeta) (*model.Session, error)
	endSessionFn         func(ctx context.Context, userID, sessionID string) error
	recordFeatureUsageFn func(ctx context.Context, in analytics.FeatureUsageInput) (*model.FeatureUsageEvent, error)
	upsertJournalEntryFn func(ctx context.Context, in analytics.JournalEntryInput) (*model.JournalEntry, error)
	periodMetricsFn      func(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error)
	completionMetricsFn  func(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error)
	retentionCurveFn     func(ctx context.Context, cohortDate time.Time, daysToTrack int) (*model.RetentionCurve, error)
	usagePatternsFn      func(ctx context.Context, start, end *time.Time) (*model.UsagePatterns, error)
}

func (m *mockAnalyticsService) StartSession(ctx context.Context, userID string, meta model.ClientMeta) (*model.Session, error) {
	return m.startSessionFn(ctx, userID, meta)
}
func (m *mockAnalyticsService) EndSession(ctx context.Context, userID, sessionID string) error {
	if m.endSessionFn != nil {
		return m.endSessionFn(ctx, userID, sessionID)
	}
	return nil
}
func (m *mockAnalyticsService) RecordFeatureUsage(ctx context.Context, in analytics.FeatureUsageInput) (*model.FeatureUsageEvent, error) {
	return m.recordFeatureUsageFn(ctx, in)
}
func (m *mockAnalyticsService) UpsertJournalEntry(ctx context.Context, in analytics.JournalEntryInput) (*model.JournalEntry, error) {
	return m.upsertJournalEntryFn(ctx, in)
}
func (m *mockAnalyticsService) PeriodMetrics(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error) {
	return m.periodMetricsFn(ctx, kind, key)
}
func (m *mockAnalyticsService) CompletionMetrics(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error) {
	return m.completionMetricsFn(ctx, date)
}
func (m *mockAnalyticsService) RetentionCurve(ctx context.Context, cohortDate time.Time, daysToTrack int) (*model.RetentionCurve, error) {
	return m.retentionCurveFn(ctx, cohortDate, daysToTrack)
}
func (m *mockAnalyticsService) UsagePatterns(ctx context.Context, start, end *time.Time) (*model.UsagePatterns, error) {
	return m.usagePatternsFn(ctx, start, end)
}

type mockUserService struct {
	registerFn func(ctx context.Context, in user.RegisterInput) (*model.User, bool, error)
	getFn      func(ctx context.Context, userID string) (*model.User, error)
	updateFn   func(ctx context.Context, userID string, in user.UpdateInput) (*model.User, error)
}

func (m *mockUserService) Register(ctx context.Context, in user.RegisterInput) (*model.User, bool, error) {
	return m.registerFn(ctx, in)
}
func (m *mockUserService) Get(ctx context.Context, userID string) (*model.User, error) {
	return m.getFn(ctx, userID)
}

func (m *mockUserService) Update(ctx context.Context, userID string, in user.UpdateInput) (*model.User, error) {
	return m.updateFn(ctx, userID, in)
}

type mockJournalService struct {
	journalEntryFn       func(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error)
	listJournalEntriesFn func(ctx context.Context, userID string, page, pageSize int) (*model.JournalEntryPage, error)
}

func (m *mockJournalService) JournalEntry(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error) {
	return m.journalEntryFn(ctx, userID, date)
}
func (m *mockJournalService) ListJournalEntries(ctx context.Context, userID string, page, pageSize int) (*model.JournalEntryPage, error) {
	return m.listJournalEntriesFn(ctx, userID, page, pageSize)
}

type mockResolver struct {
	known map[string]string
}

func (m *mockResolver) ResolveExternalID(ctx context.Context, externalID string) (string, error) {
	if id, ok := m.known[externalID]; ok {
		return id, nil
	}
	return "", model.NewUserNotFoundError()
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// withUserID はリクエストコンテキストに内部ユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
