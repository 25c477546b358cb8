// v0
// internal/model/model.go
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownMetric is returned when a metric type outside the closed set is supplied.
	ErrUnknownMetric = errors.New("unknown metric type")
	// ErrInvalidReading marks malformed sensor readings. Such events are never retried.
	ErrInvalidReading = errors.New("invalid sensor reading")
	// ErrInvalidAction marks malformed user actions. Such events are never retried.
	ErrInvalidAction = errors.New("invalid user action")
	// ErrInvalidPrediction marks malformed ML prediction batches. Such events are never retried.
	ErrInvalidPrediction = errors.New("invalid prediction batch")
)

// externalIDSpace scopes the UUIDs derived from ids minted by other systems.
var externalIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ecoversa:external-id"))

// DateLayout is the calendar-day key used by leaderboard entries and reports.
const DateLayout = "2006-01-02"

// MetricType enumerates the campus resources tracked by the sensor network.
type MetricType string

const (
	MetricElectricity MetricType = "electricity"
	MetricWater       MetricType = "water"
	MetricWaste       MetricType = "waste"
	MetricAirQuality  MetricType = "air_quality"
)

// MetricTypes lists every supported metric in a stable order.
func MetricTypes() []MetricType {
	return []MetricType{MetricElectricity, MetricWater, MetricWaste, MetricAirQuality}
}

// ParseMetricType normalizes raw input and rejects anything outside the closed set.
func ParseMetricType(raw string) (MetricType, error) {
	mt := MetricType(strings.ToLower(strings.TrimSpace(raw)))
	if !mt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, raw)
	}
	return mt, nil
}

// Valid reports whether the metric type belongs to the supported set.
func (m MetricType) Valid() bool {
	switch m {
	case MetricElectricity, MetricWater, MetricWaste, MetricAirQuality:
		return true
	default:
		return false
	}
}

func (m MetricType) String() string { return string(m) }

// SensorReading is a timestamped measurement for one building and metric.
// Readings are immutable once created.
type SensorReading struct {
	ID         string     `json:"id"`
	Building   string     `json:"building"`
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Validate enforces the boundary checks applied to every incoming reading.
func (r SensorReading) Validate() error {
	if strings.TrimSpace(r.Building) == "" {
		return fmt.Errorf("%w: building missing", ErrInvalidReading)
	}
	if !r.MetricType.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidReading, ErrUnknownMetric, string(r.MetricType))
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value not finite", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidReading)
	}
	return nil
}

// UserBaseline carries the reference consumption levels of a user.
type UserBaseline struct {
	UserID         string  `json:"userId"`
	BaselineEnergy float64 `json:"baseline_energy"`
	BaselineWater  float64 `json:"baseline_water"`
}

// AchievementType enumerates the awards the evaluator can grant.
type AchievementType string

const (
	AchievementEnergySaver   AchievementType = "energy_saver"
	AchievementWaterGuardian AchievementType = "water_guardian"
)

// Achievement is a one-time award. At most one exists per (UserID, Type).
type Achievement struct {
	UserID       string          `json:"userId"`
	Type         AchievementType `json:"type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	RewardTokens int             `json:"reward_tokens"`
	CarbonSaved  float64         `json:"carbon_saved,omitempty"`
	WaterSaved   float64         `json:"water_saved,omitempty"`
	EarnedDate   time.Time       `json:"earned_date"`
	Claimed      bool            `json:"claimed"`
}

// Severity grades how far a reading strays from its history.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyStatus tracks the operator workflow of an anomaly.
type AnomalyStatus string

const (
	AnomalyActive       AnomalyStatus = "active"
	AnomalyAcknowledged AnomalyStatus = "acknowledged"
)

// Range is a closed numeric interval.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Anomaly is a statistically unusual reading flagged for operator attention.
type Anomaly struct {
	ID            string        `json:"id"`
	Building      string        `json:"building"`
	MetricType    MetricType    `json:"metric_type"`
	Value         float64       `json:"value"`
	ExpectedRange Range         `json:"expected_range"`
	Severity      Severity      `json:"severity"`
	Status        AnomalyStatus `json:"status"`
	DetectedAt    time.Time     `json:"detected_at"`
}

// UserAction is an immutable log entry describing one sustainability action.
type UserAction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Date              time.Time `json:"date"`
	CarbonSaved       float64   `json:"carbon_saved"`
	ActionType        string    `json:"action_type"`
	TokensEarned      int       `json:"tokens_earned"`
	AchievementEarned bool      `json:"achievement_earned"`
}

// Validate enforces the boundary checks applied to every incoming action.
func (a UserAction) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("%w: userId missing", ErrInvalidAction)
	}
	if strings.TrimSpace(a.ActionType) == "" {
		return fmt.Errorf("%w: action_type missing", ErrInvalidAction)
	}
	if a.Date.IsZero() {
		return fmt.Errorf("%w: date missing", ErrInvalidAction)
	}
	if math.IsNaN(a.CarbonSaved) || math.IsInf(a.CarbonSaved, 0) {
		return fmt.Errorf("%w: carbon_saved not finite", ErrInvalidAction)
	}
	if a.TokensEarned < 0 {
		return fmt.Errorf("%w: tokens_earned negative", ErrInvalidAction)
	}
	return nil
}

// LeaderboardEntry is the per-user, per-day rollup used for ranking.
type LeaderboardEntry struct {
	UserID           string    `json:"userId"`
	Date             string    `json:"date"`
	TotalCarbonSaved float64   `json:"total_carbon_saved"`
	TotalActions     int       `json:"total_actions"`
	TotalTokens      int       `json:"total_tokens"`
	Score            float64   `json:"score"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ReportMetrics holds the resource sums and means of a report window.
type ReportMetrics struct {
	TotalEnergyConsumption   float64 `json:"total_energy_consumption"`
	TotalWaterConsumption    float64 `json:"total_water_consumption"`
	TotalWasteGenerated      float64 `json:"total_waste_generated"`
	AverageEnergyPerBuilding float64 `json:"average_energy_per_building"`
	AverageWaterPerBuilding  float64 `json:"average_water_per_building"`
}

// UserEngagement summarizes the user activity of a report window.
type UserEngagement struct {
	ActiveUsers            int     `json:"active_users"`
	TotalActions           int     `json:"total_actions"`
	TotalCarbonSaved       float64 `json:"total_carbon_saved"`
	MostPopularAction      string  `json:"most_popular_action"`
	MostPopularActionCount int     `json:"most_popular_action_count"`
}

// AchievementSummary counts the rewards handed out in a report window.
type AchievementSummary struct {
	TotalAwarded           int `json:"total_awarded"`
	TotalTokensDistributed int `json:"total_tokens_distributed"`
}

// DailyReport is the single immutable record produced for a calendar day.
type DailyReport struct {
	Date                string             `json:"date"`
	Metrics             ReportMetrics      `json:"metrics"`
	UserEngagement      UserEngagement     `json:"user_engagement"`
	Achievements        AchievementSummary `json:"achievements"`
	SustainabilityScore int                `json:"sustainability_score"`
	GeneratedAt         time.Time          `json:"generated_at"`
}

// UserStats is the profile view assembled for a single user.
type UserStats struct {
	UserID              string        `json:"userId"`
	Achievements        []Achievement `json:"achievements"`
	TotalAchievements   int           `json:"total_achievements"`
	TotalTokens         int           `json:"total_tokens"`
	TotalCarbonSaved    float64       `json:"total_carbon_saved"`
	TotalActions        int           `json:"total_actions"`
	RecentActions       []UserAction  `json:"recent_actions"`
	SustainabilityScore int           `json:"sustainability_score"`
	Rank                int           `json:"rank"`
}

// DayBounds returns the inclusive UTC window covering the calendar day of t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Nanosecond)
}

// DayKey formats t as the YYYY-MM-DD key of its UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NormalizeID returns id in canonical UUID form. Ids that are not UUIDs,
// such as push ids minted by upstream systems, map to a name-based UUID so
// the same external id always yields the same record id. An empty id stays
// empty.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(externalIDSpace, []byte(id)).String()
}
