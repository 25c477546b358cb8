// v0
// internal/anomaly/detector_test.go
package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

func reading(v float64) model.SensorReading {
	return model.SensorReading{
		Building:   "Engineering",
		MetricType: model.MetricElectricity,
		Value:      v,
		Timestamp:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateEmptyHistoryHasNoSignal(t *testing.T) {
	if _, ok := Evaluate(reading(1e9), nil); ok {
		t.Fatalf("expected no anomaly without history")
	}
}

func TestEvaluateConstantHistory(t *testing.T) {
	history := []float64{42, 42, 42, 42}
	if st := ComputeStats(history); st.StdDev != 0 {
		t.Fatalf("expected zero stddev, got %v", st.StdDev)
	}
	if _, ok := Evaluate(reading(42), history); ok {
		t.Fatalf("expected equal reading to be normal")
	}
	a, ok := Evaluate(reading(42.001), history)
	if !ok || a.Severity != model.SeverityHigh {
		t.Fatalf("expected high anomaly for any deviation, got %+v (%v)", a, ok)
	}
}

func TestEvaluateHighSeverity(t *testing.T) {
	a, ok := Evaluate(reading(125), []float64{90, 100, 110})
	if !ok {
		t.Fatalf("expected anomaly")
	}
	if a.Severity != model.SeverityHigh {
		t.Fatalf("expected high severity, got %s", a.Severity)
	}
	sd := math.Sqrt(200.0 / 3.0)
	if math.Abs(a.ExpectedRange.Low-(100-sd)) > 1e-9 || math.Abs(a.ExpectedRange.High-(100+sd)) > 1e-9 {
		t.Fatalf("unexpected range %+v", a.ExpectedRange)
	}
	if math.Abs(a.ExpectedRange.Low-91.84) > 0.01 || math.Abs(a.ExpectedRange.High-108.16) > 0.01 {
		t.Fatalf("range not ≈[91.84,108.16]: %+v", a.ExpectedRange)
	}
	if a.Status != model.AnomalyActive {
		t.Fatalf("expected active status, got %s", a.Status)
	}
}

func TestEvaluateMediumSeverityAndBoundaries(t *testing.T) {
	// mean 100, σ = 10
	history := []float64{90, 110}
	cases := []struct {
		value float64
		want  model.Severity
		ok    bool
	}{
		{value: 115, ok: false},
		{value: 120, ok: false},
		{value: 125, want: model.SeverityMedium, ok: true},
		{value: 130, want: model.SeverityMedium, ok: true},
		{value: 131, want: model.SeverityHigh, ok: true},
		{value: 69, want: model.SeverityHigh, ok: true},
	}
	for _, tc := range cases {
		a, ok := Evaluate(reading(tc.value), history)
		if ok != tc.ok {
			t.Fatalf("value %v: expected ok=%v, got %v", tc.value, tc.ok, ok)
		}
		if ok && a.Severity != tc.want {
			t.Fatalf("value %v: expected %s, got %s", tc.value, tc.want, a.Severity)
		}
	}
}

func TestEvaluateTruncatesHistory(t *testing.T) {
	history := make([]float64, 0, 150)
	for i := 0; i < HistoryLimit; i++ {
		history = append(history, 10)
	}
	for i := 0; i < 50; i++ {
		history = append(history, 1000)
	}
	if _, ok := Evaluate(reading(10), history); ok {
		t.Fatalf("expected readings beyond the limit to be ignored")
	}
}
