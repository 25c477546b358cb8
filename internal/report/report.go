// v0
// internal/report/report.go
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogdevsanskar/ecoversa/internal/leaderboard"
	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/scoring"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
)

// ErrInvalidWindow is returned for a report window that is inverted or
// crosses a UTC day boundary.
var ErrInvalidWindow = errors.New("invalid report window")

// Source supplies the raw events of a report window.
type Source interface {
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]model.SensorReading, error)
	ActionsBetween(ctx context.Context, start, end time.Time) ([]model.UserAction, error)
}

// Sink persists a finished report with its leaderboard.
type Sink interface {
	CommitDaily(ctx context.Context, report model.DailyReport, entries []model.LeaderboardEntry) error
}

// Result is a generated report together with the leaderboard of its day.
type Result struct {
	Report  model.DailyReport
	Entries []model.LeaderboardEntry
}

// Generator assembles daily reports from stored readings and actions.
type Generator struct {
	source Source
	sink   Sink
	board  *leaderboard.Board
	log    *slog.Logger
	now    func() time.Time
}

// NewGenerator wires a generator. board may be nil when no in-memory ranking
// needs refreshing after a commit.
func NewGenerator(source Source, sink Sink, board *leaderboard.Board, log *slog.Logger) (*Generator, error) {
	if source == nil {
		return nil, errors.New("report source must not be nil")
	}
	if sink == nil {
		return nil, errors.New("report sink must not be nil")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{
		source: source,
		sink:   sink,
		board:  board,
		log:    log.With(slog.String("component", "report")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate builds the report of [start, end] without persisting it. The
// window must lie within one UTC day because the report and its leaderboard
// are keyed by that day. Readings and actions are fetched concurrently; a
// failure of either aborts.
func (g *Generator) Generate(ctx context.Context, start, end time.Time) (Result, error) {
	if end.Before(start) {
		return Result{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow, end, start)
	}
	if model.DayKey(start) != model.DayKey(end) {
		return Result{}, fmt.Errorf("%w: %s to %s spans more than one UTC day", ErrInvalidWindow, start.UTC(), end.UTC())
	}
	var (
		readings []model.SensorReading
		actions  []model.UserAction
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		readings, err = g.source.ReadingsBetween(gctx, start, end)
		if err != nil {
			return fmt.Errorf("load readings: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		var err error
		actions, err = g.source.ActionsBetween(gctx, start, end)
		if err != nil {
			return fmt.Errorf("load actions: %w", err)
		}
		return nil
	})
	if err := grp.Wait(); err != nil {
		return Result{}, err
	}

	at := g.now()
	rep := Summarize(model.DayKey(start), readings, actions)
	rep.GeneratedAt = at

	byUser := leaderboard.Aggregate(start, actions, at)
	entries := make([]model.LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return Result{Report: rep, Entries: entries}, nil
}

// Run generates the report of the UTC calendar day containing day and
// commits it atomically. Nothing is persisted when generation fails or ctx
// is cancelled before the commit.
func (g *Generator) Run(ctx context.Context, day time.Time) (model.DailyReport, error) {
	start, end := model.DayBounds(day)
	res, err := g.Generate(ctx, start, end)
	if err != nil {
		g.log.Error("daily_report_failed", slog.String("date", model.DayKey(start)), slog.Any("err", err))
		return model.DailyReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.DailyReport{}, err
	}
	if err := g.sink.CommitDaily(ctx, res.Report, res.Entries); err != nil {
		g.log.Error("daily_report_commit_failed", slog.String("date", res.Report.Date), slog.Any("err", err))
		return model.DailyReport{}, fmt.Errorf("commit report %s: %w", res.Report.Date, err)
	}

	if g.board != nil {
		entries := make(map[string]model.LeaderboardEntry, len(res.Entries))
		for _, e := range res.Entries {
			entries[e.UserID] = e
		}
		g.board.Replace(res.Report.Date, entries, res.Report.GeneratedAt)
	}
	g.log.Info("daily_report_committed",
		slog.String("date", res.Report.Date),
		slog.Int("score", res.Report.SustainabilityScore),
		slog.Int("leaderboard_entries", len(res.Entries)),
	)
	return res.Report, nil
}

// Summarize computes the report body of one window from its raw events.
// Empty inputs yield zero sums, zero engagement and a score of 0.
func Summarize(date string, readings []model.SensorReading, actions []model.UserAction) model.DailyReport {
	var (
		m                 model.ReportMetrics
		energyN, waterN   int
		usersSeen         = make(map[string]struct{})
		actionCounts      = make(map[string]int)
		engagement        model.UserEngagement
		achievementTotals model.AchievementSummary
	)
	for _, r := range readings {
		switch r.MetricType {
		case model.MetricElectricity:
			m.TotalEnergyConsumption += r.Value
			energyN++
		case model.MetricWater:
			m.TotalWaterConsumption += r.Value
			waterN++
		case model.MetricWaste:
			m.TotalWasteGenerated += r.Value
		}
	}
	if energyN > 0 {
		m.AverageEnergyPerBuilding = m.TotalEnergyConsumption / float64(energyN)
	}
	if waterN > 0 {
		m.AverageWaterPerBuilding = m.TotalWaterConsumption / float64(waterN)
	}

	for _, a := range actions {
		usersSeen[a.UserID] = struct{}{}
		actionCounts[a.ActionType]++
		engagement.TotalCarbonSaved += a.CarbonSaved
		if a.AchievementEarned {
			achievementTotals.TotalAwarded++
		}
		achievementTotals.TotalTokensDistributed += a.TokensEarned
	}
	engagement.ActiveUsers = len(usersSeen)
	engagement.TotalActions = len(actions)
	engagement.MostPopularAction, engagement.MostPopularActionCount = mostPopular(actionCounts)

	return model.DailyReport{
		Date:                date,
		Metrics:             m,
		UserEngagement:      engagement,
		Achievements:        achievementTotals,
		SustainabilityScore: scoring.ScorePeriod(readings, actions),
	}
}

// mostPopular picks the highest count, breaking ties by action type.
func mostPopular(counts map[string]int) (string, int) {
	best, bestN := "", 0
	for action, n := range counts {
		if n > bestN || (n == bestN && action < best) {
			best, bestN = action, n
		}
	}
	return best, bestN
}

var _ Source = (storage.Store)(nil)
