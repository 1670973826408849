package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/diary/internal/model"
	"github.com/hitoshi/diary/internal/repository"
)

// --- モック ---

// fakeEvents はメモリ上の生イベントに対してEventReaderを実装する。
type fakeEvents struct {
	users    []model.User
	sessions []model.Session
	usage    []model.FeatureUsageEvent
	entries  []model.JournalEntry

	snapshots int
	err       error
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (f *fakeEvents) ReadSnapshot(ctx context.Context, fn func(r repository.EventReader) error) error {
	f.snapshots++
	if f.err != nil {
		return f.err
	}
	return fn(f)
}

func (f *fakeEvents) CountActiveUsers(ctx context.Context, from, to time.Time) (int, error) {
	seen := map[string]bool{}
	for _, s := range f.sessions {
		if inRange(s.StartTime, from, to) {
			seen[s.UserID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeEvents) CountNewUsers(ctx context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, u := range f.users {
		if inRange(u.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) CountSessions(ctx context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, s := range f.sessions {
		if inRange(s.StartTime, from, to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) AvgSessionDuration(ctx context.Context, from, to time.Time) (*float64, error) {
	sum, n := 0.0, 0
	for _, s := range f.sessions {
		if inRange(s.StartTime, from, to) && s.DurationSeconds != nil {
			sum += *s.DurationSeconds
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

func (f *fakeEvents) CountRetainedUsers(ctx context.Context, cohortFrom, cohortTo, from, to time.Time) (int, error) {
	cohort := map[string]bool{}
	for _, u := range f.users {
		if inRange(u.CreatedAt, cohortFrom, cohortTo) {
			cohort[u.ID] = true
		}
	}
	seen := map[string]bool{}
	for _, s := range f.sessions {
		if cohort[s.UserID] && inRange(s.StartTime, from, to) {
			seen[s.UserID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeEvents) EntryStats(ctx context.Context, from, to time.Time) (*repository.EntryStats, error) {
	stats := &repository.EntryStats{}
	ctSum, ctN, lenSum := 0.0, 0, 0
	for _, e := range f.entries {
		if !inRange(e.CreatedAt, from, to) {
			continue
		}
		stats.Started++
		if e.IsCompleted {
			stats.Completed++
		}
		if e.CompletionTime != nil {
			ctSum += *e.CompletionTime
			ctN++
		}
		lenSum += e.EntryLength
	}
	if ctN > 0 {
		v := ctSum / float64(ctN)
		stats.AvgCompletionTime = &v
	}
	if stats.Started > 0 {
		v := float64(lenSum) / float64(stats.Started)
		stats.AvgEntryLength = &v
	}
	return stats, nil
}

func (f *fakeEvents) UsageByFeature(ctx context.Context, from, to time.Time) ([]model.FeatureUsageStat, error) {
	type acc struct {
		count, durN int
		durSum      float64
	}
	byName := map[string]*acc{}
	for _, e := range f.usage {
		if !inRange(e.OccurredAt, from, to) {
			continue
		}
		a := byName[e.FeatureName]
		if a == nil {
			a = &acc{}
			byName[e.FeatureName] = a
		}
		a.count++
		if e.DurationSeconds != nil {
			a.durSum += *e.DurationSeconds
			a.durN++
		}
	}
	var stats []model.FeatureUsageStat
	for name, a := range byName {
		st := model.FeatureUsageStat{FeatureName: name, UsageCount: a.count}
		if a.durN > 0 {
			v := a.durSum / float64(a.durN)
			st.AvgDuration = &v
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].UsageCount != stats[j].UsageCount {
			return stats[i].UsageCount > stats[j].UsageCount
		}
		return stats[i].FeatureName < stats[j].FeatureName
	})
	return stats, nil
}

func (f *fakeEvents) UsageByHour(ctx context.Context, from, to time.Time) ([]model.HourlyUsageStat, error) {
	counts := map[int]int{}
	for _, e := range f.usage {
		if inRange(e.OccurredAt, from, to) {
			counts[e.OccurredAt.UTC().Hour()]++
		}
	}
	var stats []model.HourlyUsageStat
	for h := 0; h < 24; h++ {
		if c, ok := counts[h]; ok {
			stats = append(stats, model.HourlyUsageStat{Hour: h, UsageCount: c})
		}
	}
	return stats, nil
}

// fakeRollups はメモリ上の集計行リポジトリ。
type fakeRollups struct {
	mu          sync.Mutex
	periods     map[string]*model.PeriodMetrics
	completions map[string]*model.CompletionMetrics
	inserts     int
	err         error
}

func newFakeRollups() *fakeRollups {
	return &fakeRollups{
		periods:     map[string]*model.PeriodMetrics{},
		completions: map[string]*model.CompletionMetrics{},
	}
}

func periodKey(kind model.PeriodKind, start time.Time) string {
	return string(kind) + "/" + start.Format(time.DateOnly)
}

func (f *fakeRollups) FindPeriod(ctx context.Context, kind model.PeriodKind, periodStart time.Time) (*model.PeriodMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.periods[periodKey(kind, periodStart)]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRollups) InsertPeriodIfAbsent(ctx context.Context, m *model.PeriodMetrics) (*model.PeriodMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	key := periodKey(m.Kind, m.PeriodStart)
	if existing, ok := f.periods[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *m
	f.periods[key] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRollups) FindCompletion(ctx context.Context, date time.Time) (*model.CompletionMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.completions[date.Format(time.DateOnly)]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRollups) InsertCompletionIfAbsent(ctx context.Context, m *model.CompletionMetrics) (*model.CompletionMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	key := m.MetricDate.Format(time.DateOnly)
	if existing, ok := f.completions[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *m
	f.completions[key] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRollups) DeleteProvisional(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// fakeCollector は記録されたメトリクスを数える。
type fakeCollector struct {
	computed    map[string]int
	cacheHits   map[string]int
	negative    map[string]int
	trackFailed map[string]int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		computed:    map[string]int{},
		cacheHits:   map[string]int{},
		negative:    map[string]int{},
		trackFailed: map[string]int{},
	}
}

func (c *fakeCollector) RecordRollupComputed(kind string)                  { c.computed[kind]++ }
func (c *fakeCollector) RecordRollupCacheHit(kind string)                  { c.cacheHits[kind]++ }
func (c *fakeCollector) RecordComputeLatency(kind string, d time.Duration) {}
func (c *fakeCollector) RecordNegativeReturning(kind string)               { c.negative[kind]++ }
func (c *fakeCollector) RecordProvisionalPurged(count int)                 {}
func (c *fakeCollector) RecordTrackingFailure(event string)                { c.trackFailed[event]++ }
func (c *fakeCollector) RecordHTTPStatus(statusCode int)                   {}

// fakeSessions はメモリ上のセッションリポジトリ。
type fakeSessions struct {
	byID       map[string]*model.Session
	closeCalls int
}

func newFakeSessions(sessions ...*model.Session) *fakeSessions {
	f := &fakeSessions{byID: map[string]*model.Session{}}
	for _, s := range sessions {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSessions) Create(ctx context.Context, session *model.Session) error {
	cp := *session
	f.byID[session.ID] = &cp
	return nil
}

func (f *fakeSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Close(ctx context.Context, id string, endTime time.Time, durationSeconds float64) (bool, error) {
	f.closeCalls++
	s, ok := f.byID[id]
	if !ok || s.EndTime != nil {
		return false, nil
	}
	s.EndTime = &endTime
	s.DurationSeconds = &durationSeconds
	return true, nil
}

type fakeUsage struct {
	created []*model.FeatureUsageEvent
}

func (f *fakeUsage) Create(ctx context.Context, event *model.FeatureUsageEvent) error {
	f.created = append(f.created, event)
	return nil
}

type fakeEntries struct {
	byKey map[string]*model.JournalEntry
}

func (f *fakeEntries) Upsert(ctx context.Context, entry *model.JournalEntry) (*model.JournalEntry, error) {
	if f.byKey == nil {
		f.byKey = map[string]*model.JournalEntry{}
	}
	key := entry.UserID + "/" + entry.EntryDate.Format(time.DateOnly)
	saved := *entry
	if existing, ok := f.byKey[key]; ok {
		saved.ID = existing.ID
		saved.CreatedAt = existing.CreatedAt
	}
	f.byKey[key] = &saved
	out := saved
	return &out, nil
}

func (f *fakeEntries) FindByDate(ctx context.Context, userID string, date time.Time) (*model.JournalEntry, error) {
	if e, ok := f.byKey[userID+"/"+date.Format(time.DateOnly)]; ok {
		out := *e
		return &out, nil
	}
	return nil, nil
}

func (f *fakeEntries) List(ctx context.Context, userID string, limit, offset int) ([]*model.JournalEntry, int, error) {
	var mine []*model.JournalEntry
	for _, e := range f.byKey {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].EntryDate.After(mine[j].EntryDate) })
	total := len(mine)
	if offset >= total {
		return []*model.JournalEntry{}, total, nil
	}
	end := min(offset+limit, total)
	return mine[offset:end], total, nil
}

type trackedEvent struct {
	distinctID string
	event      string
	properties map[string]any
}

type fakeTracker struct {
	events []trackedEvent
}

func (f *fakeTracker) Track(ctx context.Context, distinctID, event string, properties map[string]any) {
	f.events = append(f.events, trackedEvent{distinctID: distinctID, event: event, properties: properties})
}

// fixedClock は常に同じ時刻を返す時計を生成する。
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func floatPtr(v float64) *float64 { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
