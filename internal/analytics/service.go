package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/diary/internal/metrics"
	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
)

// Tracking event names.
const (
	EventSessionStarted    = "session_started"
	EventSessionEnded      = "session_ended"
	EventFeatureUsed       = "feature_used"
	EventJournalEntrySaved = "journal_entry_saved"
)

// Tracker は外部の分析基盤にイベントを送信するインターフェース。
// 送信の失敗は呼び出し元に返さない。
type Tracker interface {
	Track(ctx context.Context, distinctID, event string, properties map[string]any)
}

// ServiceDeps はServiceの依存関係をまとめた構造体。
type ServiceDeps struct {
	Sessions repository.SessionRepository
	Usage    repository.UsageEventRepository
	Entries  repository.JournalEntryRepository
	Rollups  repository.RollupRepository
	Events   repository.SnapshotReader
	Metrics  metrics.MetricsCollector
	Tracker  Tracker          // nilの場合は送信しない
	Now      func() time.Time // nilの場合はtime.Now
}

// FeatureUsageInput は機能利用の記録要求を表す。
type FeatureUsageInput struct {
	UserID          string
	FeatureName     string
	SessionID       *string
	Payload         model.Payload
	DurationSeconds *float64
}

// JournalEntryInput はジャーナル保存要求を表す。
type JournalEntryInput struct {
	UserID         string
	EntryDate      *time.Time // nilの場合は今日
	Content        model.EntryContent
	SessionID      *string
	CompletionTime *float64 // 秒
}

// Service は利用イベントの記録と集計の窓口となるサービス層。
type Service struct {
	sessions repository.SessionRepository
	usage    repository.UsageEventRepository
	entries  repository.JournalEntryRepository
	tracker  Tracker
	now      func() time.Time

	periods    *PeriodAggregator
	completion *CompletionCalculator
	retention  *RetentionAnalyzer
	patterns   *UsagePatternAnalyzer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		sessions:   deps.Sessions,
		usage:      deps.Usage,
		entries:    deps.Entries,
		tracker:    deps.Tracker,
		now:        now,
		periods:    NewPeriodAggregator(deps.Rollups, deps.Events, deps.Metrics, now),
		completion: NewCompletionCalculator(deps.Rollups, deps.Events, deps.Metrics, now),
		retention:  NewRetentionAnalyzer(deps.Events),
		patterns:   NewUsagePatternAnalyzer(deps.Events, now),
	}
}

// StartSession は利用セッションを開始する。端末種別はUser-Agentから判定する。
func (s *Service) StartSession(ctx context.Context, userID string, meta model.ClientMeta) (*model.Session, error) {
	session := &model.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		StartTime:  s.now().UTC(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		DeviceType: DetectDeviceType(meta.UserAgent),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの開始に失敗しました: %w", err)
	}

	s.track(ctx, userID, EventSessionStarted, map[string]any{
		"session_id":  session.ID,
		"device_type": session.DeviceType,
	})
	return session, nil
}

// EndSession はセッションを終了し、利用時間を記録する。
// 存在しないセッション、他ユーザーのセッション、終了済みのセッションに対しては何もしない。
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil || session.UserID != userID || !session.IsOpen() {
		slog.Debug("終了対象のセッションがありません",
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
		)
		return nil
	}

	end := s.now().UTC()
	duration := math.Max(end.Sub(session.StartTime).Seconds(), 0)

	closed, err := s.sessions.Close(ctx, sessionID, end, duration)
	if err != nil {
		return fmt.Errorf("セッションの終了に失敗しました: %w", err)
	}
	if closed {
		s.track(ctx, userID, EventSessionEnded, map[string]any{
			"session_id":       sessionID,
			"duration_seconds": duration,
		})
	}
	return nil
}

// RecordFeatureUsage は機能利用イベントを記録する。
func (s *Service) RecordFeatureUsage(ctx context.Context, in FeatureUsageInput) (*model.FeatureUsageEvent, error) {
	if err := s.checkSessionOwner(ctx, in.UserID, in.SessionID); err != nil {
		return nil, err
	}

	event := &model.FeatureUsageEvent{
		ID:              uuid.New().String(),
		UserID:          in.UserID,
		SessionID:       in.SessionID,
		FeatureName:     in.FeatureName,
		OccurredAt:      s.now().UTC(),
		DurationSeconds: in.DurationSeconds,
		Payload:         in.Payload,
	}
	if err := s.usage.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("機能利用の記録に失敗しました: %w", err)
	}

	s.track(ctx, in.UserID, EventFeatureUsed, map[string]any{
		"feature_name": event.FeatureName,
	})
	return event, nil
}

// UpsertJournalEntry はジャーナルを保存し、文字数と完了状態を記録する。
// 同じユーザー・同じ日付のジャーナルは上書きされる。
func (s *Service) UpsertJournalEntry(ctx context.Context, in JournalEntryInput) (*model.JournalEntry, error) {
	if err := s.checkSessionOwner(ctx, in.UserID, in.SessionID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entryDate := DateOf(now)
	if in.EntryDate != nil {
		entryDate = DateOf(*in.EntryDate)
	}
	length, completed := ClassifyEntry(in.Content)

	entry := &model.JournalEntry{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		EntryDate:      entryDate,
		Content:        in.Content,
		EntryLength:    length,
		IsCompleted:    completed,
		CompletionTime: in.CompletionTime,
		SessionID:      in.SessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	saved, err := s.entries.Upsert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("ジャーナルの保存に失敗しました: %w", err)
	}

	s.track(ctx, in.UserID, EventJournalEntrySaved, map[string]any{
		"entry_length": saved.EntryLength,
		"is_completed": saved.IsCompleted,
	})
	return saved, nil
}

// PeriodMetrics は期間別の利用指標を返す。
func (s *Service) PeriodMetrics(ctx context.Context, kind model.PeriodKind, key *time.Time) (*model.PeriodMetrics, error) {
	return s.periods.Compute(ctx, kind, key)
}

// CompletionMetrics は日別のジャーナル完了率を返す。
func (s *Service) CompletionMetrics(ctx context.Context, date *time.Time) (*model.CompletionMetrics, error) {
	return s.completion.Compute(ctx, date)
}

// RetentionCurve はコホートの継続率曲線を返す。
func (s *Service) RetentionCurve(ctx context.Context, cohortDate time.Time, daysToTrack int) (*model.RetentionCurve, error) {
	return s.retention.Curve(ctx, cohortDate, daysToTrack)
}

// UsagePatterns は機能別・時間帯別の利用分布を返す。
func (s *Service) UsagePatterns(ctx context.Context, start, end *time.Time) (*model.UsagePatterns, error) {
	return s.patterns.Patterns(ctx, start, end)
}

// checkSessionOwner は指定されたセッションが存在し、ユーザー本人のものかを確認する。
func (s *Service) checkSessionOwner(ctx context.Context, userID string, sessionID *string) error {
	if sessionID == nil {
		return nil
	}
	session, err := s.sessions.FindByID(ctx, *sessionID)
	if err != nil {
		return fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil || session.UserID != userID {
		return model.NewInvalidParameterError("session_id", "unknown session")
	}
	return nil
}

func (s *Service) track(ctx context.Context, userID, event string, props map[string]any) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track(ctx, userID, event, props)
}
