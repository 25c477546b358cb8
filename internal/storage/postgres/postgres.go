// v0
// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on PostgreSQL through database/sql.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string, maxConns int, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s, err := New(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened handle.
func New(db *sql.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	return &Store{db: db, log: log.With(slog.String("component", "postgres"))}, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("schema_applied")
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveReading(ctx context.Context, r model.SensorReading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (id, building, metric_type, value, ts)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Building, string(r.MetricType), r.Value, r.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (s *Store) RecentReadings(ctx context.Context, building string, metric model.MetricType, limit int) ([]model.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, building, metric_type, value, ts
		   FROM sensor_readings
		  WHERE building = $1 AND metric_type = $2
		  ORDER BY ts DESC
		  LIMIT $3`,
		building, string(metric), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	return scanReadings(rows)
}

func (s *Store) ReadingsBetween(ctx context.Context, start, end time.Time) ([]model.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, building, metric_type, value, ts
		   FROM sensor_readings
		  WHERE ts >= $1 AND ts <= $2
		  ORDER BY ts`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	defer rows.Close()
	var out []model.SensorReading
	for rows.Next() {
		var (
			r      model.SensorReading
			metric string
		)
		if err := rows.Scan(&r.ID, &r.Building, &metric, &r.Value, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.MetricType = model.MetricType(metric)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveAction(ctx context.Context, a model.UserAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_actions (id, user_id, action_date, carbon_saved, action_type, tokens_earned, achievement_earned)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.UserID, a.Date.UTC(), a.CarbonSaved, a.ActionType, a.TokensEarned, a.AchievementEarned)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *Store) ActionsBetween(ctx context.Context, start, end time.Time) ([]model.UserAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action_date, carbon_saved, action_type, tokens_earned, achievement_earned
		   FROM user_actions
		  WHERE action_date >= $1 AND action_date <= $2
		  ORDER BY action_date`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	return scanActions(rows)
}

func (s *Store) RecentActions(ctx context.Context, userID string, limit int) ([]model.UserAction, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action_date, carbon_saved, action_type, tokens_earned, achievement_earned
		   FROM user_actions
		  WHERE user_id = $1
		  ORDER BY action_date DESC
		  LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user actions: %w", err)
	}
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]model.UserAction, error) {
	defer rows.Close()
	var out []model.UserAction
	for rows.Next() {
		var a model.UserAction
		if err := rows.Scan(&a.ID, &a.UserID, &a.Date, &a.CarbonSaved, &a.ActionType, &a.TokensEarned, &a.AchievementEarned); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Date = a.Date.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateIfAbsent relies on the (user_id, type) primary key: the insert is a
// no-op when the pair exists, so concurrent grants yield a single row.
func (s *Store) CreateIfAbsent(ctx context.Context, ach model.Achievement) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO achievements (user_id, type, title, description, reward_tokens, carbon_saved, water_saved, earned_date, claimed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, type) DO NOTHING`,
		ach.UserID, string(ach.Type), ach.Title, ach.Description, ach.RewardTokens,
		ach.CarbonSaved, ach.WaterSaved, ach.EarnedDate.UTC(), ach.Claimed)
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("achievement rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) AchievementsByUser(ctx context.Context, userID string) ([]model.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, type, title, description, reward_tokens, carbon_saved, water_saved, earned_date, claimed
		   FROM achievements
		  WHERE user_id = $1
		  ORDER BY type`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer rows.Close()
	var out []model.Achievement
	for rows.Next() {
		var (
			a   model.Achievement
			typ string
		)
		if err := rows.Scan(&a.UserID, &typ, &a.Title, &a.Description, &a.RewardTokens, &a.CarbonSaved, &a.WaterSaved, &a.EarnedDate, &a.Claimed); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.Type = model.AchievementType(typ)
		a.EarnedDate = a.EarnedDate.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAnomaly(ctx context.Context, a model.Anomaly) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies (id, building, metric_type, value, expected_low, expected_high, severity, status, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Building, string(a.MetricType), a.Value, a.ExpectedRange.Low, a.ExpectedRange.High,
		string(a.Severity), string(a.Status), a.DetectedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert anomaly: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("anomaly rows affected: %w", err)
	}
	return n == 1, nil
}

const anomalyColumns = `id, building, metric_type, value, expected_low, expected_high, severity, status, detected_at`

// AcknowledgeAnomaly treats ids that cannot be a UUID as unknown so the
// UUID column never sees them.
func (s *Store) AcknowledgeAnomaly(ctx context.Context, id string) (model.Anomaly, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Anomaly{}, storage.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE anomalies SET status = $2 WHERE id = $1 RETURNING `+anomalyColumns,
		id, string(model.AnomalyAcknowledged))
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Anomaly{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Anomaly{}, fmt.Errorf("acknowledge anomaly: %w", err)
	}
	return a, nil
}

func (s *Store) ActiveAnomalies(ctx context.Context) ([]model.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE status = $1 ORDER BY detected_at DESC, id`,
		string(model.AnomalyActive))
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()
	var out []model.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(sc scanner) (model.Anomaly, error) {
	var (
		a                        model.Anomaly
		metric, severity, status string
	)
	err := sc.Scan(&a.ID, &a.Building, &metric, &a.Value, &a.ExpectedRange.Low, &a.ExpectedRange.High,
		&severity, &status, &a.DetectedAt)
	if err != nil {
		return model.Anomaly{}, err
	}
	a.MetricType = model.MetricType(metric)
	a.Severity = model.Severity(severity)
	a.Status = model.AnomalyStatus(status)
	a.DetectedAt = a.DetectedAt.UTC()
	return a, nil
}

func (s *Store) PutBaseline(ctx context.Context, b model.UserBaseline) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_baselines (user_id, baseline_energy, baseline_water)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		   SET baseline_energy = EXCLUDED.baseline_energy,
		       baseline_water = EXCLUDED.baseline_water`,
		b.UserID, b.BaselineEnergy, b.BaselineWater)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func (s *Store) Baselines(ctx context.Context) ([]model.UserBaseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, baseline_energy, baseline_water FROM user_baselines ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()
	var out []model.UserBaseline
	for rows.Next() {
		var b model.UserBaseline
		if err := rows.Scan(&b.UserID, &b.BaselineEnergy, &b.BaselineWater); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SavePrediction inserts the batch and its suggestions in one transaction.
// A batch already on file commits without touching its suggestions.
func (s *Store) SavePrediction(ctx context.Context, b model.PredictionBatch) (inserted bool, err error) {
	raw := []byte(b.Raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin prediction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ai_predictions (id, model_version, predictions, ts)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		b.ID, b.ModelVersion, raw, b.Timestamp.UTC())
	if err != nil {
		return false, fmt.Errorf("insert prediction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("prediction rows affected: %w", err)
	}
	if n == 1 {
		for _, sg := range b.Suggestions {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO ai_suggestions (id, prediction_id, category, title, description, impact, difficulty, status, implemented, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				sg.ID, b.ID, sg.Category, sg.Title, sg.Description, sg.Impact, sg.Difficulty,
				string(sg.Status), sg.Implemented, sg.CreatedAt.UTC()); err != nil {
				return false, fmt.Errorf("insert suggestion %s: %w", sg.ID, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit prediction: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ActiveSuggestions(ctx context.Context, limit int) ([]model.Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prediction_id, category, title, description, impact, difficulty, status, implemented, created_at
		   FROM ai_suggestions
		  WHERE status = $1 AND NOT implemented
		  ORDER BY created_at DESC, id
		  LIMIT $2`,
		string(model.SuggestionActive), limit)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()
	var out []model.Suggestion
	for rows.Next() {
		var (
			sg     model.Suggestion
			status string
		)
		if err := rows.Scan(&sg.ID, &sg.PredictionID, &sg.Category, &sg.Title, &sg.Description,
			&sg.Impact, &sg.Difficulty, &status, &sg.Implemented, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Status = model.SuggestionStatus(status)
		sg.CreatedAt = sg.CreatedAt.UTC()
		out = append(out, sg)
	}
	return out, rows.Err()
}

// CommitDaily replaces the leaderboard of report.Date and upserts the report
// inside one transaction.
func (s *Store) CommitDaily(ctx context.Context, report model.DailyReport, entries []model.LeaderboardEntry) (err error) {
	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		return fmt.Errorf("encode report metrics: %w", err)
	}
	engagement, err := json.Marshal(report.UserEngagement)
	if err != nil {
		return fmt.Errorf("encode report engagement: %w", err)
	}
	achievements, err := json.Marshal(report.Achievements)
	if err != nil {
		return fmt.Errorf("encode report achievements: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin daily commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE date = $1`, report.Date); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	for _, e := range entries {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO leaderboard_entries (user_id, date, total_carbon_saved, total_actions, total_tokens, score, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.UserID, e.Date, e.TotalCarbonSaved, e.TotalActions, e.TotalTokens, e.Score, e.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("insert leaderboard entry %s: %w", e.UserID, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO daily_reports (date, metrics, user_engagement, achievements, sustainability_score, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (date) DO UPDATE
		   SET metrics = EXCLUDED.metrics,
		       user_engagement = EXCLUDED.user_engagement,
		       achievements = EXCLUDED.achievements,
		       sustainability_score = EXCLUDED.sustainability_score,
		       generated_at = EXCLUDED.generated_at`,
		report.Date, metrics, engagement, achievements, report.SustainabilityScore, report.GeneratedAt.UTC()); err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit daily: %w", err)
	}
	return nil
}

func (s *Store) Report(ctx context.Context, date string) (model.DailyReport, error) {
	var (
		r                                 model.DailyReport
		metrics, engagement, achievements []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'), metrics, user_engagement, achievements, sustainability_score, generated_at
		   FROM daily_reports
		  WHERE date = $1`,
		date).Scan(&r.Date, &metrics, &engagement, &achievements, &r.SustainabilityScore, &r.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyReport{}, storage.ErrNotFound
	}
	if err != nil {
		return model.DailyReport{}, fmt.Errorf("query report: %w", err)
	}
	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return model.DailyReport{}, fmt.Errorf("decode report metrics: %w", err)
	}
	if err := json.Unmarshal(engagement, &r.UserEngagement); err != nil {
		return model.DailyReport{}, fmt.Errorf("decode report engagement: %w", err)
	}
	if err := json.Unmarshal(achievements, &r.Achievements); err != nil {
		return model.DailyReport{}, fmt.Errorf("decode report achievements: %w", err)
	}
	r.GeneratedAt = r.GeneratedAt.UTC()
	return r, nil
}

func (s *Store) LatestLeaderboardDate(ctx context.Context) (string, bool, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT to_char(MAX(date), 'YYYY-MM-DD') FROM leaderboard_entries`).Scan(&date)
	if err != nil {
		return "", false, fmt.Errorf("query latest leaderboard: %w", err)
	}
	if !date.Valid || date.String == "" {
		return "", false, nil
	}
	return date.String, true, nil
}

func (s *Store) LeaderboardForDate(ctx context.Context, date string) ([]model.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, to_char(date, 'YYYY-MM-DD'), total_carbon_saved, total_actions, total_tokens, score, updated_at
		   FROM leaderboard_entries
		  WHERE date = $1
		  ORDER BY score DESC, user_id`,
		date)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()
	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Date, &e.TotalCarbonSaved, &e.TotalActions, &e.TotalTokens, &e.Score, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
