// v0
// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/achievement"
	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// Readings persists sensor readings keyed by auto-generated id.
type Readings interface {
	SaveReading(ctx context.Context, r model.SensorReading) error
	// RecentReadings returns up to limit readings of building+metric, newest first.
	RecentReadings(ctx context.Context, building string, metric model.MetricType, limit int) ([]model.SensorReading, error)
	// ReadingsBetween returns the readings with start <= timestamp <= end.
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]model.SensorReading, error)
}

// Actions persists the user action log.
type Actions interface {
	SaveAction(ctx context.Context, a model.UserAction) error
	ActionsBetween(ctx context.Context, start, end time.Time) ([]model.UserAction, error)
	// RecentActions returns up to limit actions of userID, newest first.
	RecentActions(ctx context.Context, userID string, limit int) ([]model.UserAction, error)
}

// Achievements persists awards keyed by (user, type).
type Achievements interface {
	achievement.Ledger
	AchievementsByUser(ctx context.Context, userID string) ([]model.Achievement, error)
}

// Anomalies persists detected anomalies and their operator workflow.
type Anomalies interface {
	// SaveAnomaly stores a when its id is new and reports whether it did.
	SaveAnomaly(ctx context.Context, a model.Anomaly) (bool, error)
	// AcknowledgeAnomaly flips an anomaly to acknowledged. Acknowledging twice
	// is not an error. Unknown ids yield ErrNotFound.
	AcknowledgeAnomaly(ctx context.Context, id string) (model.Anomaly, error)
	ActiveAnomalies(ctx context.Context) ([]model.Anomaly, error)
}

// Baselines exposes the user reference consumption levels.
type Baselines interface {
	PutBaseline(ctx context.Context, b model.UserBaseline) error
	Baselines(ctx context.Context) ([]model.UserBaseline, error)
}

// Reports stores the daily report together with the leaderboard of its day.
type Reports interface {
	// CommitDaily stores report and replaces every leaderboard entry of
	// report.Date with entries in one atomic step. Either both become
	// visible or neither does.
	CommitDaily(ctx context.Context, report model.DailyReport, entries []model.LeaderboardEntry) error
	Report(ctx context.Context, date string) (model.DailyReport, error)
	LatestLeaderboardDate(ctx context.Context) (string, bool, error)
	LeaderboardForDate(ctx context.Context, date string) ([]model.LeaderboardEntry, error)
}

// Predictions persists the batches delivered by the analytics models.
type Predictions interface {
	// SavePrediction stores b together with its suggestions in one atomic
	// step and reports whether b was new. A batch id seen before is a no-op.
	SavePrediction(ctx context.Context, b model.PredictionBatch) (bool, error)
	// ActiveSuggestions returns up to limit active suggestions, newest first.
	ActiveSuggestions(ctx context.Context, limit int) ([]model.Suggestion, error)
}

// Store bundles every repository the engine depends on.
type Store interface {
	Readings
	Actions
	Achievements
	Anomalies
	Predictions
	Baselines
	Reports
	Close() error
}
