// v0
// internal/core/processor.go
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ogdevsanskar/ecoversa/internal/achievement"
	"github.com/ogdevsanskar/ecoversa/internal/anomaly"
	"github.com/ogdevsanskar/ecoversa/internal/leaderboard"
	"github.com/ogdevsanskar/ecoversa/internal/live"
	"github.com/ogdevsanskar/ecoversa/internal/metrics"
	"github.com/ogdevsanskar/ecoversa/internal/metricstore"
	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/notify"
	"github.com/ogdevsanskar/ecoversa/internal/report"
	"github.com/ogdevsanskar/ecoversa/internal/scoring"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
)

// ErrInvalidUser is returned when a user id is missing.
var ErrInvalidUser = errors.New("invalid user id")

// recentActionsShown is the number of actions listed in a user profile.
const recentActionsShown = 10

// LivePublisher pushes accepted readings to dashboards.
type LivePublisher interface {
	PublishReading(ctx context.Context, u live.Update) error
}

// Options tunes the processor.
type Options struct {
	HistoryWindow      int
	RecentActionsLimit int
	StorageTimeout     time.Duration
}

// Deps are the collaborators of a Processor. Live, Notifier, Board and
// Telemetry are optional.
type Deps struct {
	Store     storage.Store
	Metrics   *metricstore.Store
	Reports   *report.Generator
	Board     *leaderboard.Board
	Live      LivePublisher
	Notifier  notify.Notifier
	Telemetry *metrics.Metrics
	Logger    *slog.Logger
}

// Outcome describes the effects of one accepted reading.
type Outcome struct {
	Reading       model.SensorReading
	MetricUpdated bool
	CampusTotal   float64
	Anomaly       *model.Anomaly
	Awards        []model.Achievement
}

// Processor dispatches incoming events to the evaluators and performs the
// resulting side effects. Handlers hold no per-event state and may run
// concurrently.
type Processor struct {
	store     storage.Store
	metrics   *metricstore.Store
	reports   *report.Generator
	board     *leaderboard.Board
	live      LivePublisher
	notifier  notify.Notifier
	telemetry *metrics.Metrics
	log       *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewProcessor validates deps and fills option defaults.
func NewProcessor(deps Deps, opts Options) (*Processor, error) {
	if deps.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if deps.Metrics == nil {
		return nil, errors.New("metric store must not be nil")
	}
	if deps.Reports == nil {
		return nil, errors.New("report generator must not be nil")
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = anomaly.HistoryLimit
	}
	if opts.RecentActionsLimit <= 0 {
		opts.RecentActionsLimit = 30
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	return &Processor{
		store:     deps.Store,
		metrics:   deps.Metrics,
		reports:   deps.Reports,
		board:     deps.Board,
		live:      deps.Live,
		notifier:  notifier,
		telemetry: deps.Telemetry,
		log:       log.With(slog.String("component", "processor")),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *Processor) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.StorageTimeout)
}

// OnReading validates and persists r, updates live totals, then runs the
// anomaly and achievement evaluators. History is loaded before r is stored
// so the detector only sees prior readings.
func (p *Processor) OnReading(ctx context.Context, r model.SensorReading) (Outcome, error) {
	if err := r.Validate(); err != nil {
		label := ""
		if r.MetricType.Valid() {
			label = string(r.MetricType)
		}
		p.telemetry.Reading(label, metrics.OutcomeRejected)
		return Outcome{}, err
	}
	r.ID = model.NormalizeID(r.ID)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Timestamp = r.Timestamp.UTC()
	out := Outcome{Reading: r}

	history, err := p.history(ctx, r)
	if err != nil {
		p.telemetry.Reading(string(r.MetricType), metrics.OutcomeFailed)
		return Outcome{}, err
	}

	sctx, cancel := p.storageCtx(ctx)
	err = p.store.SaveReading(sctx, r)
	cancel()
	if err != nil {
		p.telemetry.Reading(string(r.MetricType), metrics.OutcomeFailed)
		return Outcome{}, fmt.Errorf("save reading: %w", err)
	}

	total, err := p.metrics.Update(r.Building, r.MetricType, r.Value)
	if err != nil {
		p.telemetry.Reading(string(r.MetricType), metrics.OutcomeRejected)
		return Outcome{}, err
	}
	out.MetricUpdated = true
	out.CampusTotal = total
	p.telemetry.SetCampusTotal(string(r.MetricType), total)

	if p.live != nil {
		if err := p.live.PublishReading(ctx, live.Update{
			Building:    r.Building,
			MetricType:  r.MetricType,
			Value:       r.Value,
			CampusTotal: total,
			LastUpdated: p.now(),
		}); err != nil {
			p.log.Warn("live_push_failed", slog.String("building", r.Building), slog.Any("err", err))
		}
	}

	if found, ok := anomaly.Evaluate(r, history); ok {
		found.ID = anomalyID(r.ID)
		if _, err := p.recordAnomaly(ctx, found, "detector"); err != nil {
			p.telemetry.Reading(string(r.MetricType), metrics.OutcomeFailed)
			return Outcome{}, err
		}
		out.Anomaly = &found
	}

	awards, err := p.grantAwards(ctx, r)
	if err != nil {
		p.telemetry.Reading(string(r.MetricType), metrics.OutcomeFailed)
		return Outcome{}, err
	}
	out.Awards = awards

	p.telemetry.Reading(string(r.MetricType), metrics.OutcomeOK)
	p.log.Debug("reading_processed",
		slog.String("id", r.ID),
		slog.String("building", r.Building),
		slog.String("metric", string(r.MetricType)),
		slog.Float64("campus_total", total),
	)
	return out, nil
}

// recordAnomaly stores found and alerts on it. A redelivered anomaly is
// already on file and is neither counted nor announced again.
func (p *Processor) recordAnomaly(ctx context.Context, found model.Anomaly, source string) (bool, error) {
	sctx, cancel := p.storageCtx(ctx)
	inserted, err := p.store.SaveAnomaly(sctx, found)
	cancel()
	if err != nil {
		return false, fmt.Errorf("save anomaly: %w", err)
	}
	if !inserted {
		p.log.Debug("anomaly_already_recorded", slog.String("id", found.ID))
		return false, nil
	}
	p.telemetry.Anomaly(string(found.Severity))
	p.log.Warn("anomaly_detected",
		slog.String("id", found.ID),
		slog.String("source", source),
		slog.String("building", found.Building),
		slog.String("metric", string(found.MetricType)),
		slog.Float64("value", found.Value),
		slog.String("severity", string(found.Severity)),
	)
	p.publish(ctx, notify.ForAnomaly(found, p.now()))
	return true, nil
}

// history returns the values of the prior readings of r's building and
// metric, newest first. A redelivered r is excluded from its own history.
func (p *Processor) history(ctx context.Context, r model.SensorReading) ([]float64, error) {
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	prior, err := p.store.RecentReadings(sctx, r.Building, r.MetricType, p.opts.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	values := make([]float64, 0, len(prior))
	for _, h := range prior {
		if h.ID == r.ID {
			continue
		}
		values = append(values, h.Value)
	}
	return values, nil
}

func (p *Processor) grantAwards(ctx context.Context, r model.SensorReading) ([]model.Achievement, error) {
	sctx, cancel := p.storageCtx(ctx)
	baselines, err := p.store.Baselines(sctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load baselines: %w", err)
	}

	var granted []model.Achievement
	for _, b := range baselines {
		for _, award := range achievement.Evaluate(r, b) {
			sctx, cancel := p.storageCtx(ctx)
			created, err := achievement.Grant(sctx, p.store, award)
			cancel()
			if err != nil {
				return granted, err
			}
			if !created {
				continue
			}
			ach := award.Achievement
			granted = append(granted, ach)
			p.telemetry.Achievement(string(ach.Type))
			p.log.Info("achievement_granted",
				slog.String("user", ach.UserID),
				slog.String("type", string(ach.Type)),
				slog.Int("tokens", ach.RewardTokens),
				slog.Float64("saved", award.AmountSaved),
			)
			p.publish(ctx, notify.ForAchievement(ach, p.now()))
		}
	}
	return granted, nil
}

func (p *Processor) publish(ctx context.Context, n notify.Notification) {
	if err := p.notifier.Publish(ctx, n); err != nil {
		p.log.Warn("notification_failed", slog.String("type", n.Type), slog.String("recipient", n.Recipient), slog.Any("err", err))
	}
}

// OnAction validates and appends a to the action log.
func (p *Processor) OnAction(ctx context.Context, a model.UserAction) error {
	if err := a.Validate(); err != nil {
		p.telemetry.Action(metrics.OutcomeRejected)
		return err
	}
	a.ID = model.NormalizeID(a.ID)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Date = a.Date.UTC()
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	if err := p.store.SaveAction(sctx, a); err != nil {
		p.telemetry.Action(metrics.OutcomeFailed)
		return fmt.Errorf("save action: %w", err)
	}
	p.telemetry.Action(metrics.OutcomeOK)
	p.log.Debug("action_recorded", slog.String("user", a.UserID), slog.String("type", a.ActionType))
	return nil
}

// PredictionOutcome summarizes one accepted prediction batch.
type PredictionOutcome struct {
	BatchID     string
	Duplicate   bool
	Anomalies   int
	Suggestions int
}

// OnPrediction stores a batch from the analytics models and raises the
// anomalies it carries. Anomaly and suggestion ids derive from the batch id
// so a redelivered batch stores and announces nothing new.
func (p *Processor) OnPrediction(ctx context.Context, b model.PredictionBatch) (PredictionOutcome, error) {
	b.ID = model.NormalizeID(b.ID)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if strings.TrimSpace(b.ModelVersion) == "" {
		b.ModelVersion = model.DefaultModelVersion
	}
	b.Timestamp = b.Timestamp.UTC()
	if err := b.Validate(); err != nil {
		p.telemetry.Prediction(metrics.OutcomeRejected)
		return PredictionOutcome{}, err
	}
	b.Anomalies = append([]model.Anomaly(nil), b.Anomalies...)
	for i := range b.Anomalies {
		a := &b.Anomalies[i]
		a.ID = predictionChildID(b.ID, "anomaly", i)
		a.Status = model.AnomalyActive
		if a.DetectedAt.IsZero() {
			a.DetectedAt = b.Timestamp
		}
		a.DetectedAt = a.DetectedAt.UTC()
	}
	b.Suggestions = append([]model.Suggestion(nil), b.Suggestions...)
	for i := range b.Suggestions {
		sg := &b.Suggestions[i]
		sg.ID = predictionChildID(b.ID, "suggestion", i)
		sg.PredictionID = b.ID
		if sg.Status == "" {
			sg.Status = model.SuggestionActive
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = b.Timestamp
		}
		sg.CreatedAt = sg.CreatedAt.UTC()
	}

	out := PredictionOutcome{BatchID: b.ID, Suggestions: len(b.Suggestions)}
	sctx, cancel := p.storageCtx(ctx)
	inserted, err := p.store.SavePrediction(sctx, b)
	cancel()
	if err != nil {
		p.telemetry.Prediction(metrics.OutcomeFailed)
		return PredictionOutcome{}, fmt.Errorf("save prediction: %w", err)
	}
	out.Duplicate = !inserted

	// Anomalies are saved even for a known batch: a previous attempt may
	// have stopped after the batch row was committed.
	for _, a := range b.Anomalies {
		if _, err := p.recordAnomaly(ctx, a, "prediction"); err != nil {
			p.telemetry.Prediction(metrics.OutcomeFailed)
			return PredictionOutcome{}, err
		}
		out.Anomalies++
	}
	p.telemetry.Prediction(metrics.OutcomeOK)
	p.log.Info("prediction_processed",
		slog.String("id", b.ID),
		slog.String("model_version", b.ModelVersion),
		slog.Int("anomalies", out.Anomalies),
		slog.Int("suggestions", out.Suggestions),
		slog.Bool("duplicate", out.Duplicate),
	)
	return out, nil
}

// Suggestions lists the active eco suggestions, newest first.
func (p *Processor) Suggestions(ctx context.Context, limit int) ([]model.Suggestion, error) {
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	return p.store.ActiveSuggestions(sctx, limit)
}

// OnScheduledDaily generates and commits the report of the UTC day of day.
func (p *Processor) OnScheduledDaily(ctx context.Context, day time.Time) (model.DailyReport, error) {
	start := time.Now()
	rep, err := p.reports.Run(ctx, day)
	p.telemetry.ReportGenerated(time.Since(start), err)
	return rep, err
}

// GetUserStats assembles the profile of userID. Totals cover the most recent
// RecentActionsLimit actions; rank comes from the latest leaderboard day.
func (p *Processor) GetUserStats(ctx context.Context, userID string) (model.UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.UserStats{}, ErrInvalidUser
	}

	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	achievements, err := p.store.AchievementsByUser(sctx, userID)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("load achievements: %w", err)
	}
	actions, err := p.store.RecentActions(sctx, userID, p.opts.RecentActionsLimit)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("load actions: %w", err)
	}

	stats := model.UserStats{
		UserID:              userID,
		Achievements:        achievements,
		TotalAchievements:   len(achievements),
		TotalActions:        len(actions),
		SustainabilityScore: scoring.ScoreUser(actions),
		Rank:                1,
	}
	if stats.Achievements == nil {
		stats.Achievements = []model.Achievement{}
	}
	for _, a := range achievements {
		stats.TotalTokens += a.RewardTokens
	}
	for _, a := range actions {
		stats.TotalCarbonSaved += a.CarbonSaved
	}
	recent := actions
	if len(recent) > recentActionsShown {
		recent = recent[:recentActionsShown]
	}
	stats.RecentActions = append([]model.UserAction{}, recent...)

	if p.board != nil {
		if snap, ok := p.board.Latest(); ok {
			stats.Rank = leaderboard.RankOf(snap.Entries, userID)
		}
	}
	return stats, nil
}

// SetBaseline stores the reference consumption levels of a user.
func (p *Processor) SetBaseline(ctx context.Context, b model.UserBaseline) error {
	b.UserID = strings.TrimSpace(b.UserID)
	if b.UserID == "" {
		return ErrInvalidUser
	}
	if b.BaselineEnergy < 0 || b.BaselineWater < 0 {
		return fmt.Errorf("%w: baselines must not be negative", ErrInvalidUser)
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	if err := p.store.PutBaseline(sctx, b); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// AcknowledgeAnomaly marks an anomaly as seen by an operator.
func (p *Processor) AcknowledgeAnomaly(ctx context.Context, id string) (model.Anomaly, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Anomaly{}, storage.ErrNotFound
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	a, err := p.store.AcknowledgeAnomaly(sctx, id)
	if err != nil {
		return model.Anomaly{}, err
	}
	p.log.Info("anomaly_acknowledged", slog.String("id", a.ID))
	return a, nil
}

// ActiveAnomalies lists the anomalies nobody acknowledged yet.
func (p *Processor) ActiveAnomalies(ctx context.Context) ([]model.Anomaly, error) {
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	return p.store.ActiveAnomalies(sctx)
}

// LiveTotals returns the latest value per building and the campus totals.
func (p *Processor) LiveTotals() metricstore.Snapshot {
	return p.metrics.Snapshot()
}

// Report returns the stored report of date (YYYY-MM-DD).
func (p *Processor) Report(ctx context.Context, date string) (model.DailyReport, error) {
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	return p.store.Report(sctx, date)
}

// Leaderboard returns the ranked leaderboard of date, or of the latest day
// when date is empty. A day absent from the board is loaded from storage.
func (p *Processor) Leaderboard(ctx context.Context, date string) (leaderboard.Snapshot, error) {
	if date == "" {
		if p.board != nil {
			if snap, ok := p.board.Latest(); ok {
				return snap, nil
			}
		}
		sctx, cancel := p.storageCtx(ctx)
		latest, ok, err := p.store.LatestLeaderboardDate(sctx)
		cancel()
		if err != nil {
			return leaderboard.Snapshot{}, fmt.Errorf("latest leaderboard date: %w", err)
		}
		if !ok {
			return leaderboard.Snapshot{}, storage.ErrNotFound
		}
		date = latest
	}
	if p.board != nil {
		if snap, ok := p.board.Snapshot(date); ok {
			return snap, nil
		}
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	rows, err := p.store.LeaderboardForDate(sctx, date)
	if err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("load leaderboard %s: %w", date, err)
	}
	if len(rows) == 0 {
		return leaderboard.Snapshot{}, storage.ErrNotFound
	}
	byUser := make(map[string]model.LeaderboardEntry, len(rows))
	var generated time.Time
	for _, row := range rows {
		byUser[row.UserID] = row
		if row.UpdatedAt.After(generated) {
			generated = row.UpdatedAt
		}
	}
	return leaderboard.Snapshot{Date: date, GeneratedAt: generated, Entries: leaderboard.Rank(byUser)}, nil
}

// anomalyID derives the anomaly id from the reading id so a redelivered
// reading maps onto the anomaly already stored.
func anomalyID(readingID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("anomaly:"+readingID)).String()
}

func predictionChildID(batchID, kind string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%s/%d", batchID, kind, i))).String()
}
