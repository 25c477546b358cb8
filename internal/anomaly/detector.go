// v0
// internal/anomaly/detector.go
package anomaly

import (
	"math"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// HistoryLimit is the number of most recent prior readings considered.
const HistoryLimit = 100

const (
	mediumSigma = 2.0
	highSigma   = 3.0
)

// Stats summarizes a window of historical values.
type Stats struct {
	Count  int
	Mean   float64
	StdDev float64
}

// ComputeStats returns the mean and population standard deviation of values.
// An empty slice yields the zero Stats.
func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Stats{Count: len(values), Mean: mean, StdDev: math.Sqrt(sq / float64(len(values)))}
}

// Classify grades value against the supplied statistics.
//
//	|value − mean| > 3σ       ⇒ high
//	2σ < |value − mean| ≤ 3σ  ⇒ medium
//	otherwise                 ⇒ no anomaly
//
// With σ = 0 every value different from the mean is high.
func Classify(value float64, st Stats) (model.Severity, bool) {
	if st.Count == 0 {
		return "", false
	}
	deviation := math.Abs(value - st.Mean)
	switch {
	case deviation > highSigma*st.StdDev:
		return model.SeverityHigh, true
	case deviation > mediumSigma*st.StdDev:
		return model.SeverityMedium, true
	default:
		return "", false
	}
}

// Evaluate checks reading against history, the values of the most recent
// prior readings of the same building and metric ordered newest first.
// Only the first HistoryLimit values are used. An empty history carries no
// signal and never produces an anomaly. The returned anomaly has no ID; the
// caller assigns one when persisting it.
func Evaluate(reading model.SensorReading, history []float64) (model.Anomaly, bool) {
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	st := ComputeStats(history)
	severity, ok := Classify(reading.Value, st)
	if !ok {
		return model.Anomaly{}, false
	}
	return model.Anomaly{
		Building:      reading.Building,
		MetricType:    reading.MetricType,
		Value:         reading.Value,
		ExpectedRange: model.Range{Low: st.Mean - st.StdDev, High: st.Mean + st.StdDev},
		Severity:      severity,
		Status:        model.AnomalyActive,
		DetectedAt:    reading.Timestamp,
	}, true
}
