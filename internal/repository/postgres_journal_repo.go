package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/diary/internal/model"
)

// PostgresJournalEntryRepo はPostgreSQLを使用したジャーナルリポジトリ。
type PostgresJournalEntryRepo struct {
	db *sql.DB
}

// NewPostgresJournalEntryRepo はPostgresJournalEntryRepoを生成する。
func NewPostgresJournalEntryRepo(db *sql.DB) *PostgresJournalEntryRepo {
	return &PostgresJournalEntryRepo{db: db}
}

// Upsert は(user_id, entry_date)単位でジャーナルを作成または上書きする。
// UNIQUE(user_id, entry_date)制約を利用したINSERT ON CONFLICTで実装する。
// 上書き時、completion_timeとsession_idは新しい値がnilなら既存の値を維持する。
func (r *PostgresJournalEntryRepo) Upsert(ctx context.Context, entry *model.JournalEntry) (*model.JournalEntry, error) {
	gratitude, err := marshalAnswers(entry.Content.GratitudeAnswers)
	if err != nil {
		return nil, err
	}
	emotionAnswers, err := marshalAnswers(entry.Content.EmotionAnswers)
	if err != nil {
		return nil, err
	}

	var (
		id             string
		createdAt      time.Time
		completionTime sql.NullFloat64
		sessionID      sql.NullString
	)
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO journal_entries (
		     id, user_id, entry_date, gratitude_answers, emotion, emotion_answers,
		     custom_text, visual_settings, entry_length, is_completed,
		     completion_time, session_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (user_id, entry_date) DO UPDATE SET
		     gratitude_answers = EXCLUDED.gratitude_answers,
		     emotion = EXCLUDED.emotion,
		     emotion_answers = EXCLUDED.emotion_answers,
		     custom_text = EXCLUDED.custom_text,
		     visual_settings = EXCLUDED.visual_settings,
		     entry_length = EXCLUDED.entry_length,
		     is_completed = EXCLUDED.is_completed,
		     completion_time = COALESCE(EXCLUDED.completion_time, journal_entries.completion_time),
		     session_id = COALESCE(EXCLUDED.session_id, journal_entries.session_id),
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, completion_time, session_id`,
		entry.ID, entry.UserID, entry.EntryDate.Format(time.DateOnly),
		gratitude, entry.Content.Emotion, emotionAnswers,
		entry.Content.CustomText, nullJSON(entry.Content.VisualSettings),
		entry.EntryLength, entry.IsCompleted,
		entry.CompletionTime, entry.SessionID,
		entry.CreatedAt, entry.UpdatedAt,
	).Scan(&id, &createdAt, &completionTime, &sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert journal entry: %w", err)
	}

	saved := *entry
	saved.ID = id
	saved.CreatedAt = createdAt
	saved.CompletionTime = nil
	if completionTime.Valid {
		saved.CompletionTime = &completionTime.Float64
	}
	saved.SessionID = nil
	if sessionID.Valid {
		saved.SessionID = &sessionID.String
	}
	return &saved, nil
}

const entryColumns = `id, user_id, entry_date, gratitude_answers, emotion, emotion_answers,
	custom_text, visual_settings, entry_length, is_completed, completion_time, session_id,
	created_at, updated_at`

// FindByDate はユーザーの指定日のジャーナルを取得する。見つからない場合はnilを返す。
func (r *PostgresJournalEntryRepo) FindByDate(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE user_id = $1 AND entry_date = $2`,
		userID, date.Format(time.DateOnly),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find journal entry: %w", err)
	}
	return entry, nil
}

// List はユーザーのジャーナルをentry_dateの降順で返す。
func (r *PostgresJournalEntryRepo) List(ctx context.Context, userID string, limit, offset int) ([]*model.JournalEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal_entries WHERE user_id = $1`,
		userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count journal entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM journal_entries
		 WHERE user_id = $1
		 ORDER BY entry_date DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.JournalEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate journal entries: %w", err)
	}
	return entries, total, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.JournalEntry, error) {
	var (
		entry          model.JournalEntry
		gratitude      []byte
		emotionAnswers []byte
		emotion        sql.NullString
		customText     sql.NullString
		visual         []byte
		completionTime sql.NullFloat64
		sessionID      sql.NullString
	)
	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.EntryDate, &gratitude, &emotion, &emotionAnswers,
		&customText, &visual, &entry.EntryLength, &entry.IsCompleted, &completionTime, &sessionID,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(gratitude, &entry.Content.GratitudeAnswers); err != nil {
		return nil, fmt.Errorf("failed to decode gratitude answers: %w", err)
	}
	if err := json.Unmarshal(emotionAnswers, &entry.Content.EmotionAnswers); err != nil {
		return nil, fmt.Errorf("failed to decode emotion answers: %w", err)
	}
	entry.EntryDate = entry.EntryDate.UTC()
	if emotion.Valid {
		entry.Content.Emotion = &emotion.String
	}
	if customText.Valid {
		entry.Content.CustomText = &customText.String
	}
	if len(visual) > 0 {
		entry.Content.VisualSettings = json.RawMessage(visual)
	}
	if completionTime.Valid {
		entry.CompletionTime = &completionTime.Float64
	}
	if sessionID.Valid {
		entry.SessionID = &sessionID.String
	}
	return &entry, nil
}

func marshalAnswers(a model.Answers) ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}
	return b, nil
}

// nullJSON は空のJSONをSQL NULLに変換する。
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// compile-time interface check
var _ JournalEntryRepository = (*PostgresJournalEntryRepo)(nil)
