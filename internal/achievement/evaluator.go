// v0
// internal/achievement/evaluator.go
package achievement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// carbonPerKWh converts saved electricity into kilograms of CO2.
const carbonPerKWh = 0.4

// Rule describes a threshold that, once crossed, earns an achievement.
type Rule struct {
	Type         model.AchievementType
	Metric       model.MetricType
	Ratio        float64
	RewardTokens int
	Title        string
	Description  string
	baseline     func(model.UserBaseline) float64
}

var rules = []Rule{
	{
		Type:         model.AchievementEnergySaver,
		Metric:       model.MetricElectricity,
		Ratio:        0.8,
		RewardTokens: 50,
		Title:        "Energy Saver",
		Description:  "20% reduction in energy usage",
		baseline:     func(b model.UserBaseline) float64 { return b.BaselineEnergy },
	},
	{
		Type:         model.AchievementWaterGuardian,
		Metric:       model.MetricWater,
		Ratio:        0.7,
		RewardTokens: 75,
		Title:        "Water Guardian",
		Description:  "30% reduction in water usage",
		baseline:     func(b model.UserBaseline) float64 { return b.BaselineWater },
	},
}

// Rules returns a copy of the built-in award rules.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Award is a candidate achievement produced by Evaluate. AmountSaved is
// expressed in the unit of the rule metric.
type Award struct {
	Achievement model.Achievement
	AmountSaved float64
}

// Evaluate returns the awards reading earns for the user owning baseline.
// Rules are checked independently; a non-positive baseline never fires.
// The result only describes candidates; Grant performs the deduplicated write.
func Evaluate(reading model.SensorReading, baseline model.UserBaseline) []Award {
	var out []Award
	for _, rule := range rules {
		if reading.MetricType != rule.Metric {
			continue
		}
		base := rule.baseline(baseline)
		if base <= 0 || reading.Value >= base*rule.Ratio {
			continue
		}
		saved := base - reading.Value
		ach := model.Achievement{
			UserID:       baseline.UserID,
			Type:         rule.Type,
			Title:        rule.Title,
			Description:  rule.Description,
			RewardTokens: rule.RewardTokens,
			EarnedDate:   reading.Timestamp,
		}
		switch rule.Metric {
		case model.MetricElectricity:
			ach.CarbonSaved = saved * carbonPerKWh
		case model.MetricWater:
			ach.WaterSaved = saved
		}
		out = append(out, Award{Achievement: ach, AmountSaved: saved})
	}
	return out
}

// Ledger persists achievements. CreateIfAbsent must behave as a single
// compare-and-set keyed on (UserID, Type): it stores ach only when no
// achievement of that pair exists, claimed or not, and reports whether it did.
type Ledger interface {
	CreateIfAbsent(ctx context.Context, ach model.Achievement) (bool, error)
}

// Grant writes award through ledger. An existing achievement of the same
// (user, type) pair is not an error; Grant simply reports false.
func Grant(ctx context.Context, ledger Ledger, award Award) (bool, error) {
	if ledger == nil {
		return false, errors.New("achievement ledger must not be nil")
	}
	ach := award.Achievement
	if ach.UserID == "" {
		return false, errors.New("achievement user must not be empty")
	}
	if ach.EarnedDate.IsZero() {
		ach.EarnedDate = time.Now().UTC()
	}
	created, err := ledger.CreateIfAbsent(ctx, ach)
	if err != nil {
		return false, fmt.Errorf("grant %s to %s: %w", ach.Type, ach.UserID, err)
	}
	return created, nil
}
