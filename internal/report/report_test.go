// v0
// internal/report/report_test.go
package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogdevsanskar/ecoversa/internal/leaderboard"
	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
)

var day = time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)

type failingSource struct {
	storage.Store
	err error
}

func (f failingSource) ActionsBetween(context.Context, time.Time, time.Time) ([]model.UserAction, error) {
	return nil, f.err
}

type recordingSink struct {
	commits []model.DailyReport
	err     error
}

func (r *recordingSink) CommitDaily(_ context.Context, rep model.DailyReport, _ []model.LeaderboardEntry) error {
	if r.err != nil {
		return r.err
	}
	r.commits = append(r.commits, rep)
	return nil
}

func seed(t *testing.T) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory(0)
	for _, r := range []model.SensorReading{
		{Building: "library", MetricType: model.MetricElectricity, Value: 400, Timestamp: day.Add(time.Hour)},
		{Building: "gym", MetricType: model.MetricElectricity, Value: 600, Timestamp: day.Add(2 * time.Hour)},
		{Building: "library", MetricType: model.MetricWater, Value: 1000, Timestamp: day.Add(time.Hour)},
		{Building: "gym", MetricType: model.MetricWater, Value: 3000, Timestamp: day.Add(2 * time.Hour)},
		{Building: "gym", MetricType: model.MetricWaste, Value: 12.5, Timestamp: day.Add(3 * time.Hour)},
		{Building: "gym", MetricType: model.MetricElectricity, Value: 9999, Timestamp: day.Add(-time.Hour)},
	} {
		require.NoError(t, m.SaveReading(ctx, r))
	}
	for _, a := range []model.UserAction{
		{UserID: "A", ActionType: "cycling", CarbonSaved: 5, TokensEarned: 10, Date: day.Add(9 * time.Hour), AchievementEarned: true},
		{UserID: "A", ActionType: "recycling", CarbonSaved: 3, TokensEarned: 5, Date: day.Add(15 * time.Hour)},
		{UserID: "B", ActionType: "cycling", CarbonSaved: 1, Date: day.Add(16 * time.Hour)},
	} {
		require.NoError(t, m.SaveAction(ctx, a))
	}
	return m
}

func TestRunCommitsReportAndLeaderboard(t *testing.T) {
	store := seed(t)
	board := leaderboard.NewBoard(nil, nil)
	g, err := NewGenerator(store, store, board, nil)
	require.NoError(t, err)

	rep, err := g.Run(context.Background(), day.Add(12*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2024-07-10", rep.Date)
	assert.Equal(t, 1000.0, rep.Metrics.TotalEnergyConsumption)
	assert.Equal(t, 500.0, rep.Metrics.AverageEnergyPerBuilding)
	assert.Equal(t, 4000.0, rep.Metrics.TotalWaterConsumption)
	assert.Equal(t, 2000.0, rep.Metrics.AverageWaterPerBuilding)
	assert.Equal(t, 12.5, rep.Metrics.TotalWasteGenerated)
	assert.Equal(t, 2, rep.UserEngagement.ActiveUsers)
	assert.Equal(t, 3, rep.UserEngagement.TotalActions)
	assert.Equal(t, 9.0, rep.UserEngagement.TotalCarbonSaved)
	assert.Equal(t, "cycling", rep.UserEngagement.MostPopularAction)
	assert.Equal(t, 1, rep.Achievements.TotalAwarded)
	assert.Equal(t, 15, rep.Achievements.TotalTokensDistributed)
	// energy 95, water 90, engagement 6
	assert.Equal(t, 64, rep.SustainabilityScore)

	stored, err := store.Report(context.Background(), "2024-07-10")
	require.NoError(t, err)
	assert.Equal(t, rep, stored)

	rows, err := store.LeaderboardForDate(context.Background(), "2024-07-10")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	snap, ok := board.Latest()
	require.True(t, ok)
	assert.Equal(t, "A", snap.Entries[0].UserID)
	assert.Equal(t, 105.0, snap.Entries[0].Score)
}

func TestGenerateEmptyWindow(t *testing.T) {
	store := storage.NewMemory(0)
	g, err := NewGenerator(store, store, nil, nil)
	require.NoError(t, err)

	start, end := model.DayBounds(day)
	res, err := g.Generate(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, model.ReportMetrics{}, res.Report.Metrics)
	assert.Equal(t, model.UserEngagement{}, res.Report.UserEngagement)
	assert.Equal(t, model.AchievementSummary{}, res.Report.Achievements)
	assert.Equal(t, 0, res.Report.SustainabilityScore)
	assert.Empty(t, res.Entries)
}

func TestRunAbortsWithoutPartialCommit(t *testing.T) {
	boom := errors.New("storage unavailable")
	sink := &recordingSink{}
	g, err := NewGenerator(failingSource{Store: storage.NewMemory(0), err: boom}, sink, nil, nil)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), day)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, sink.commits)
}

func TestRunHonoursCancellation(t *testing.T) {
	store := seed(t)
	sink := &recordingSink{}
	g, err := NewGenerator(store, sink, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx, day)
	require.Error(t, err)
	assert.Empty(t, sink.commits)
}

func TestRunSurfacesCommitFailure(t *testing.T) {
	store := seed(t)
	board := leaderboard.NewBoard(nil, nil)
	g, err := NewGenerator(store, &recordingSink{err: errors.New("tx aborted")}, board, nil)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), day)
	require.Error(t, err)
	_, ok := board.Latest()
	assert.False(t, ok)
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	store := storage.NewMemory(0)
	g, err := NewGenerator(store, store, nil, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), day, day.Add(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestGenerateRejectsMultiDayWindow(t *testing.T) {
	store := seed(t)
	g, err := NewGenerator(store, store, nil, nil)
	require.NoError(t, err)

	start, _ := model.DayBounds(day)
	_, err = g.Generate(context.Background(), start, start.Add(48*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)

	// A non-UTC end that still falls on the same UTC day is accepted.
	_, end := model.DayBounds(day)
	_, err = g.Generate(context.Background(), start, end.In(time.FixedZone("CEST", 2*60*60)))
	assert.NoError(t, err)
}

func TestMostPopularTieBreak(t *testing.T) {
	action, n := mostPopular(map[string]int{"walking": 2, "cycling": 2, "recycling": 1})
	assert.Equal(t, "cycling", action)
	assert.Equal(t, 2, n)

	action, n = mostPopular(map[string]int{})
	assert.Equal(t, "", action)
	assert.Equal(t, 0, n)
}
