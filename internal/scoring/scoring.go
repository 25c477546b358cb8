// v0
// internal/scoring/scoring.go
package scoring

import (
	"math"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

const (
	energyScale     = 1000.0
	waterScale      = 2000.0
	engagementStep  = 2
	consistencyStep = 5
	maxScore        = 100.0
)

// PeriodBreakdown exposes the components behind a period score. A component
// without input data is reported as absent and left out of the average.
type PeriodBreakdown struct {
	EnergyEfficiency float64
	HasEnergy        bool
	WaterEfficiency  float64
	HasWater         bool
	Engagement       float64
	Score            int
}

// ScorePeriod computes the campus sustainability score for a window.
//
// energy_efficiency = 100 − mean(electricity)/1000·10
// water_efficiency  = 100 − mean(water)/2000·10
// engagement        = min(len(actions)·2, 100)
// score             = round(mean of the available components)
//
// Edge policies:
//   - Both efficiencies are clamped to [0, 100].
//   - An efficiency with no readings in the window is skipped; engagement is
//     always included, so an empty window scores 0.
func ScorePeriod(readings []model.SensorReading, actions []model.UserAction) int {
	return BreakdownPeriod(readings, actions).Score
}

// BreakdownPeriod is ScorePeriod with its intermediate components.
func BreakdownPeriod(readings []model.SensorReading, actions []model.UserAction) PeriodBreakdown {
	var (
		energySum, waterSum float64
		energyN, waterN     int
	)
	for _, r := range readings {
		switch r.MetricType {
		case model.MetricElectricity:
			energySum += r.Value
			energyN++
		case model.MetricWater:
			waterSum += r.Value
			waterN++
		}
	}

	out := PeriodBreakdown{Engagement: math.Min(float64(len(actions)*engagementStep), maxScore)}
	total := out.Engagement
	parts := 1
	if energyN > 0 {
		out.EnergyEfficiency = clamp(maxScore - energySum/float64(energyN)/energyScale*10)
		out.HasEnergy = true
		total += out.EnergyEfficiency
		parts++
	}
	if waterN > 0 {
		out.WaterEfficiency = clamp(maxScore - waterSum/float64(waterN)/waterScale*10)
		out.HasWater = true
		total += out.WaterEfficiency
		parts++
	}
	if len(readings) == 0 && len(actions) == 0 {
		return out
	}
	out.Score = int(math.Round(total / float64(parts)))
	return out
}

// ScoreUser computes a user's score over their most recent actions.
//
// consistency = min(len(actions)·5, 100)
// impact      = min(Σ carbon_saved, 100), floored at 0
// score       = round((consistency + impact) / 2)
//
// No actions yields 0.
func ScoreUser(actions []model.UserAction) int {
	if len(actions) == 0 {
		return 0
	}
	var carbon float64
	for _, a := range actions {
		carbon += a.CarbonSaved
	}
	consistency := math.Min(float64(len(actions)*consistencyStep), maxScore)
	impact := clamp(carbon)
	return int(math.Round((consistency + impact) / 2))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(maxScore, v))
}
