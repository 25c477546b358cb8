// v0
// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// Notification kinds.
const (
	KindAchievement = "achievement"
	KindAnomaly     = "anomaly"
)

// AudienceAdmins addresses every operator instead of a single user.
const AudienceAdmins = "admins"

// Notification is the message handed to the delivery collaborator.
type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Recipient string            `json:"recipient"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
}

// ForAchievement builds the message announcing a new award to its owner.
func ForAchievement(a model.Achievement, at time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      KindAchievement,
		Recipient: a.UserID,
		Title:     "New Achievement: " + a.Title,
		Message:   a.Description,
		Data: map[string]string{
			"achievementType": string(a.Type),
			"tokens":          strconv.Itoa(a.RewardTokens),
		},
		CreatedAt: at.UTC(),
	}
}

// ForAnomaly builds the operator alert for a detected anomaly.
func ForAnomaly(a model.Anomaly, at time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      KindAnomaly,
		Recipient: AudienceAdmins,
		Title:     "Anomaly Detected: " + a.Building,
		Message:   fmt.Sprintf("Unusual %s reading: %g", a.MetricType, a.Value),
		Severity:  string(a.Severity),
		Data: map[string]string{
			"anomalyId":     a.ID,
			"building":      a.Building,
			"metric_type":   string(a.MetricType),
			"value":         strconv.FormatFloat(a.Value, 'f', -1, 64),
			"expected_low":  strconv.FormatFloat(a.ExpectedRange.Low, 'f', -1, 64),
			"expected_high": strconv.FormatFloat(a.ExpectedRange.High, 'f', -1, 64),
		},
		CreatedAt: at.UTC(),
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }
