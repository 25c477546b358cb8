// v0
// internal/ingest/decode.go
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// readingEnvelope mirrors the sensor payload while tolerating extra fields.
// Both snake_case and camelCase metric keys are accepted.
type readingEnvelope struct {
	ID         string          `json:"id"`
	Building   string          `json:"building"`
	MetricType string          `json:"metric_type"`
	MetricAlt  string          `json:"metricType"`
	Value      json.RawMessage `json:"value"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

type actionEnvelope struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Date              json.RawMessage `json:"date"`
	CarbonSaved       json.RawMessage `json:"carbon_saved"`
	ActionType        string          `json:"action_type"`
	TokensEarned      json.RawMessage `json:"tokens_earned"`
	AchievementEarned bool            `json:"achievement_earned"`
}

// Hint supplies values taken from the transport when the payload omits
// them, for example the building and metric encoded in an MQTT topic or an
// id derived from a Kafka offset so redeliveries keep the same id.
type Hint struct {
	ID         string
	Building   string
	MetricType string
}

// DecodeReading parses and validates a sensor reading. A missing timestamp
// is stamped with now and a missing id falls back to hint.ID, then to a
// fresh UUID. Ids that are not UUIDs are mapped through model.NormalizeID.
// Every failure wraps model.ErrInvalidReading.
func DecodeReading(raw []byte, hint Hint, now time.Time) (model.SensorReading, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env readingEnvelope
	if err := dec.Decode(&env); err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: decode payload: %v", model.ErrInvalidReading, err)
	}

	building := firstNonEmpty(env.Building, hint.Building)
	metricRaw := firstNonEmpty(env.MetricType, env.MetricAlt, hint.MetricType)
	metric, err := model.ParseMetricType(metricRaw)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %w", model.ErrInvalidReading, err)
	}
	value, err := parseNumber(env.Value, "value")
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %v", model.ErrInvalidReading, err)
	}
	ts, err := parseTimestamp(env.Timestamp, now)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %v", model.ErrInvalidReading, err)
	}

	r := model.SensorReading{
		ID:         model.NormalizeID(firstNonEmpty(env.ID, hint.ID)),
		Building:   strings.TrimSpace(building),
		MetricType: metric,
		Value:      value,
		Timestamp:  ts,
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := r.Validate(); err != nil {
		return model.SensorReading{}, err
	}
	return r, nil
}

// DecodeAction parses and validates a user action. Only hint.ID is used and
// ids are normalized like reading ids.
// Every failure wraps model.ErrInvalidAction.
func DecodeAction(raw []byte, hint Hint, now time.Time) (model.UserAction, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env actionEnvelope
	if err := dec.Decode(&env); err != nil {
		return model.UserAction{}, fmt.Errorf("%w: decode payload: %v", model.ErrInvalidAction, err)
	}
	carbon, err := parseOptionalNumber(env.CarbonSaved, "carbon_saved")
	if err != nil {
		return model.UserAction{}, fmt.Errorf("%w: %v", model.ErrInvalidAction, err)
	}
	tokens, err := parseOptionalNumber(env.TokensEarned, "tokens_earned")
	if err != nil {
		return model.UserAction{}, fmt.Errorf("%w: %v", model.ErrInvalidAction, err)
	}
	if tokens != float64(int(tokens)) {
		return model.UserAction{}, fmt.Errorf("%w: tokens_earned must be an integer", model.ErrInvalidAction)
	}
	date, err := parseTimestamp(env.Date, now)
	if err != nil {
		return model.UserAction{}, fmt.Errorf("%w: %v", model.ErrInvalidAction, err)
	}

	a := model.UserAction{
		ID:                model.NormalizeID(firstNonEmpty(env.ID, hint.ID)),
		UserID:            strings.TrimSpace(env.UserID),
		Date:              date,
		CarbonSaved:       carbon,
		ActionType:        strings.TrimSpace(env.ActionType),
		TokensEarned:      int(tokens),
		AchievementEarned: env.AchievementEarned,
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return model.UserAction{}, err
	}
	return a, nil
}

type predictionEnvelope struct {
	ID           string          `json:"id"`
	ModelVersion string          `json:"model_version"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Predictions  json.RawMessage `json:"predictions"`
}

// predictionBody holds the parts of the predictions object the engine acts
// on. Everything else is kept verbatim in PredictionBatch.Raw.
type predictionBody struct {
	Anomalies []struct {
		Building      string          `json:"building"`
		MetricType    string          `json:"metric_type"`
		MetricAlt     string          `json:"metricType"`
		Value         json.RawMessage `json:"value"`
		Severity      string          `json:"severity"`
		ExpectedRange *model.Range    `json:"expected_range"`
	} `json:"anomalies"`
	Suggestions []struct {
		Category    string `json:"category"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Impact      string `json:"impact"`
		Difficulty  string `json:"difficulty"`
	} `json:"suggestions"`
}

// DecodePrediction parses and validates a batch from the analytics models.
// The model version defaults to model.DefaultModelVersion, anomalies without
// a severity are graded medium and every suggestion starts active. Every
// failure wraps model.ErrInvalidPrediction.
func DecodePrediction(raw []byte, hint Hint, now time.Time) (model.PredictionBatch, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env predictionEnvelope
	if err := dec.Decode(&env); err != nil {
		return model.PredictionBatch{}, fmt.Errorf("%w: decode payload: %v", model.ErrInvalidPrediction, err)
	}
	if len(env.Predictions) == 0 || string(env.Predictions) == "null" {
		return model.PredictionBatch{}, fmt.Errorf("%w: predictions missing", model.ErrInvalidPrediction)
	}
	var body predictionBody
	if err := json.Unmarshal(env.Predictions, &body); err != nil {
		return model.PredictionBatch{}, fmt.Errorf("%w: decode predictions: %v", model.ErrInvalidPrediction, err)
	}
	ts, err := parseTimestamp(env.Timestamp, now)
	if err != nil {
		return model.PredictionBatch{}, fmt.Errorf("%w: %v", model.ErrInvalidPrediction, err)
	}

	b := model.PredictionBatch{
		ID:           model.NormalizeID(firstNonEmpty(env.ID, hint.ID)),
		ModelVersion: strings.TrimSpace(env.ModelVersion),
		Timestamp:    ts,
		Raw:          env.Predictions,
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ModelVersion == "" {
		b.ModelVersion = model.DefaultModelVersion
	}
	for i, a := range body.Anomalies {
		metric, err := model.ParseMetricType(firstNonEmpty(a.MetricType, a.MetricAlt))
		if err != nil {
			return model.PredictionBatch{}, fmt.Errorf("%w: anomaly %d: %w", model.ErrInvalidPrediction, i, err)
		}
		value, err := parseNumber(a.Value, "value")
		if err != nil {
			return model.PredictionBatch{}, fmt.Errorf("%w: anomaly %d: %v", model.ErrInvalidPrediction, i, err)
		}
		severity := model.Severity(strings.ToLower(strings.TrimSpace(a.Severity)))
		if severity == "" {
			severity = model.SeverityMedium
		}
		found := model.Anomaly{
			Building:   strings.TrimSpace(a.Building),
			MetricType: metric,
			Value:      value,
			Severity:   severity,
			Status:     model.AnomalyActive,
			DetectedAt: ts,
		}
		if a.ExpectedRange != nil {
			found.ExpectedRange = *a.ExpectedRange
		}
		b.Anomalies = append(b.Anomalies, found)
	}
	for _, s := range body.Suggestions {
		b.Suggestions = append(b.Suggestions, model.Suggestion{
			Category:    strings.TrimSpace(s.Category),
			Title:       strings.TrimSpace(s.Title),
			Description: strings.TrimSpace(s.Description),
			Impact:      strings.TrimSpace(s.Impact),
			Difficulty:  strings.TrimSpace(s.Difficulty),
			Status:      model.SuggestionActive,
			CreatedAt:   ts,
		})
	}
	if err := b.Validate(); err != nil {
		return model.PredictionBatch{}, err
	}
	return b, nil
}

// parseTimestamp accepts RFC3339 strings, naive ISO-8601 strings (taken as
// UTC) and Unix epoch milliseconds given as number or string. An absent
// field falls back to now.
func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now.UTC(), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		trimmed := strings.TrimSpace(asString)
		if trimmed == "" {
			return now.UTC(), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", model.DateLayout} {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC(), nil
			}
		}
		if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return time.UnixMilli(millis).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unsupported timestamp %q", trimmed)
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if millis, err := asNumber.Int64(); err == nil {
			return time.UnixMilli(millis).UTC(), nil
		}
		if f, err := asNumber.Float64(); err == nil {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
	}
	return time.Time{}, errors.New("timestamp format not recognized")
}

// parseNumber reads a required numeric field given as JSON number or
// numeric string.
func parseNumber(raw json.RawMessage, field string) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%s missing", field)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if f, err := asNumber.Float64(); err == nil {
			return f, nil
		}
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		trimmed := strings.TrimSpace(asString)
		if trimmed == "" {
			return 0, fmt.Errorf("%s empty", field)
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", field, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%s format not recognized", field)
}

func parseOptionalNumber(raw json.RawMessage, field string) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	return parseNumber(raw, field)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
