// v0
// internal/model/prediction.go
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultModelVersion labels prediction batches that do not name their model.
const DefaultModelVersion = "1.0"

// SuggestionStatus tracks whether a suggestion is still shown to users.
type SuggestionStatus string

const (
	SuggestionActive SuggestionStatus = "active"
)

// Suggestion is an eco-friendly recommendation produced by the analytics
// models.
type Suggestion struct {
	ID           string           `json:"id"`
	PredictionID string           `json:"prediction_id"`
	Category     string           `json:"category"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Impact       string           `json:"impact,omitempty"`
	Difficulty   string           `json:"difficulty,omitempty"`
	Status       SuggestionStatus `json:"status"`
	Implemented  bool             `json:"implemented"`
	CreatedAt    time.Time        `json:"created_at"`
}

// PredictionBatch is one delivery from the analytics models. Raw keeps the
// full predictions object as received; Anomalies and Suggestions are the
// parts the engine acts on.
type PredictionBatch struct {
	ID           string          `json:"id"`
	ModelVersion string          `json:"model_version"`
	Timestamp    time.Time       `json:"timestamp"`
	Raw          json.RawMessage `json:"predictions"`
	Anomalies    []Anomaly       `json:"anomalies"`
	Suggestions  []Suggestion    `json:"suggestions"`
}

// Validate enforces the boundary checks applied to every prediction batch.
func (b PredictionBatch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: id missing", ErrInvalidPrediction)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidPrediction)
	}
	for i, a := range b.Anomalies {
		if strings.TrimSpace(a.Building) == "" {
			return fmt.Errorf("%w: anomaly %d: building missing", ErrInvalidPrediction, i)
		}
		if !a.MetricType.Valid() {
			return fmt.Errorf("%w: anomaly %d: %w: %q", ErrInvalidPrediction, i, ErrUnknownMetric, string(a.MetricType))
		}
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			return fmt.Errorf("%w: anomaly %d: value not finite", ErrInvalidPrediction, i)
		}
		if a.Severity != SeverityMedium && a.Severity != SeverityHigh {
			return fmt.Errorf("%w: anomaly %d: severity %q", ErrInvalidPrediction, i, string(a.Severity))
		}
	}
	for i, s := range b.Suggestions {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("%w: suggestion %d: title missing", ErrInvalidPrediction, i)
		}
	}
	return nil
}
