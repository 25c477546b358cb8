// v0
// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/achievement"
	"github.com/ogdevsanskar/ecoversa/internal/model"
)

var _ Store = (*Memory)(nil)

type readingKey struct {
	building string
	metric   model.MetricType
}

// Memory is an in-process Store used when no database is configured and in
// tests. Reading history is kept in a bounded buffer per (building, metric);
// once a buffer is full the oldest reading is evicted. Saving a reading,
// action or anomaly whose id is already stored is a no-op. It is safe for
// concurrent use by multiple goroutines.
type Memory struct {
	maxPerKey int

	mu          sync.RWMutex
	readings    map[readingKey][]model.SensorReading
	readingIDs  map[string]struct{}
	order       []readingKey
	actions     []model.UserAction
	actionIDs   map[string]struct{}
	anomalies   map[string]model.Anomaly
	predictions map[string]model.PredictionBatch
	suggestions []model.Suggestion
	baselines   map[string]model.UserBaseline
	reports     map[string]model.DailyReport
	leaderboard map[string][]model.LeaderboardEntry

	ledger *achievement.MemoryLedger
}

// NewMemory initializes an empty store. Values of maxPerKey less than or
// equal to zero are promoted to ten thousand readings per building+metric.
func NewMemory(maxPerKey int) *Memory {
	if maxPerKey <= 0 {
		maxPerKey = 10000
	}
	return &Memory{
		maxPerKey:   maxPerKey,
		readings:    make(map[readingKey][]model.SensorReading),
		readingIDs:  make(map[string]struct{}),
		actionIDs:   make(map[string]struct{}),
		anomalies:   make(map[string]model.Anomaly),
		predictions: make(map[string]model.PredictionBatch),
		baselines:   make(map[string]model.UserBaseline),
		reports:     make(map[string]model.DailyReport),
		leaderboard: make(map[string][]model.LeaderboardEntry),
		ledger:      achievement.NewMemoryLedger(),
	}
}

func (m *Memory) SaveReading(ctx context.Context, r model.SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := readingKey{building: r.Building, metric: r.MetricType}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.readingIDs[r.ID]; dup && r.ID != "" {
		return nil
	}
	buf, exists := m.readings[key]
	if !exists {
		m.order = append(m.order, key)
	}
	if len(buf) >= m.maxPerKey {
		delete(m.readingIDs, buf[0].ID)
		buf = append(buf[1:], r)
	} else {
		buf = append(buf, r)
	}
	m.readings[key] = buf
	if r.ID != "" {
		m.readingIDs[r.ID] = struct{}{}
	}
	return nil
}

func (m *Memory) RecentReadings(ctx context.Context, building string, metric model.MetricType, limit int) ([]model.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	buf := m.readings[readingKey{building: building, metric: metric}]
	out := make([]model.SensorReading, len(buf))
	copy(out, buf)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ReadingsBetween(ctx context.Context, start, end time.Time) ([]model.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SensorReading
	for _, key := range m.order {
		for _, r := range m.readings[key] {
			if within(r.Timestamp, start, end) {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) SaveAction(ctx context.Context, a model.UserAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID != "" {
		if _, dup := m.actionIDs[a.ID]; dup {
			return nil
		}
		m.actionIDs[a.ID] = struct{}{}
	}
	m.actions = append(m.actions, a)
	return nil
}

func (m *Memory) ActionsBetween(ctx context.Context, start, end time.Time) ([]model.UserAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UserAction
	for _, a := range m.actions {
		if within(a.Date, start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) RecentActions(ctx context.Context, userID string, limit int) ([]model.UserAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []model.UserAction
	for _, a := range m.actions {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, ach model.Achievement) (bool, error) {
	return m.ledger.CreateIfAbsent(ctx, ach)
}

func (m *Memory) AchievementsByUser(ctx context.Context, userID string) ([]model.Achievement, error) {
	return m.ledger.ListByUser(ctx, userID)
}

func (m *Memory) SaveAnomaly(ctx context.Context, a model.Anomaly) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.anomalies[a.ID]; exists {
		return false, nil
	}
	m.anomalies[a.ID] = a
	return true, nil
}

func (m *Memory) AcknowledgeAnomaly(ctx context.Context, id string) (model.Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return model.Anomaly{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.anomalies[id]
	if !ok {
		return model.Anomaly{}, ErrNotFound
	}
	a.Status = model.AnomalyAcknowledged
	m.anomalies[id] = a
	return a, nil
}

func (m *Memory) SavePrediction(ctx context.Context, b model.PredictionBatch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.predictions[b.ID]; exists {
		return false, nil
	}
	m.predictions[b.ID] = b
	m.suggestions = append(m.suggestions, b.Suggestions...)
	return true, nil
}

func (m *Memory) ActiveSuggestions(ctx context.Context, limit int) ([]model.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []model.Suggestion
	for _, s := range m.suggestions {
		if s.Status == model.SuggestionActive && !s.Implemented {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ActiveAnomalies(ctx context.Context) ([]model.Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []model.Anomaly
	for _, a := range m.anomalies {
		if a.Status == model.AnomalyActive {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PutBaseline(ctx context.Context, b model.UserBaseline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.baselines[b.UserID] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Baselines(ctx context.Context) ([]model.UserBaseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]model.UserBaseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) CommitDaily(ctx context.Context, report model.DailyReport, entries []model.LeaderboardEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]model.LeaderboardEntry, len(entries))
	copy(rows, entries)
	m.mu.Lock()
	m.reports[report.Date] = report
	m.leaderboard[report.Date] = rows
	m.mu.Unlock()
	return nil
}

func (m *Memory) Report(ctx context.Context, date string) (model.DailyReport, error) {
	if err := ctx.Err(); err != nil {
		return model.DailyReport{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[date]
	if !ok {
		return model.DailyReport{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) LatestLeaderboardDate(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := ""
	for date := range m.leaderboard {
		if date > latest {
			latest = date
		}
	}
	return latest, latest != "", nil
}

func (m *Memory) LeaderboardForDate(ctx context.Context, date string) ([]model.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.leaderboard[date]
	out := make([]model.LeaderboardEntry, len(rows))
	copy(out, rows)
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
