// v0
// internal/achievement/evaluator_test.go
package achievement

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

var at = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func TestEvaluateEnergySaver(t *testing.T) {
	r := model.SensorReading{Building: "Dormitory_A", MetricType: model.MetricElectricity, Value: 79, Timestamp: at}
	b := model.UserBaseline{UserID: "alice", BaselineEnergy: 100, BaselineWater: 100}

	awards := Evaluate(r, b)
	if len(awards) != 1 {
		t.Fatalf("expected one award, got %d", len(awards))
	}
	got := awards[0]
	if got.Achievement.Type != model.AchievementEnergySaver || got.Achievement.RewardTokens != 50 {
		t.Fatalf("unexpected award %+v", got.Achievement)
	}
	if got.AmountSaved != 21 {
		t.Fatalf("expected 21 saved, got %v", got.AmountSaved)
	}
	if math.Abs(got.Achievement.CarbonSaved-8.4) > 1e-9 {
		t.Fatalf("expected 8.4 kg carbon, got %v", got.Achievement.CarbonSaved)
	}
	if !got.Achievement.EarnedDate.Equal(at) || got.Achievement.Claimed {
		t.Fatalf("unexpected metadata %+v", got.Achievement)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	b := model.UserBaseline{UserID: "bob", BaselineEnergy: 100, BaselineWater: 1000}
	cases := []struct {
		name   string
		metric model.MetricType
		value  float64
		want   model.AchievementType
	}{
		{name: "energy at threshold", metric: model.MetricElectricity, value: 80},
		{name: "energy below", metric: model.MetricElectricity, value: 79.99, want: model.AchievementEnergySaver},
		{name: "water at threshold", metric: model.MetricWater, value: 700},
		{name: "water below", metric: model.MetricWater, value: 650, want: model.AchievementWaterGuardian},
		{name: "waste never awards", metric: model.MetricWaste, value: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			awards := Evaluate(model.SensorReading{Building: "x", MetricType: tc.metric, Value: tc.value, Timestamp: at}, b)
			if tc.want == "" {
				if len(awards) != 0 {
					t.Fatalf("expected no award, got %+v", awards)
				}
				return
			}
			if len(awards) != 1 || awards[0].Achievement.Type != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, awards)
			}
		})
	}
}

func TestEvaluateWaterGuardianCarriesWaterSaved(t *testing.T) {
	awards := Evaluate(
		model.SensorReading{Building: "x", MetricType: model.MetricWater, Value: 600, Timestamp: at},
		model.UserBaseline{UserID: "carol", BaselineWater: 1000},
	)
	if len(awards) != 1 {
		t.Fatalf("expected one award, got %d", len(awards))
	}
	if awards[0].Achievement.RewardTokens != 75 || awards[0].Achievement.WaterSaved != 400 {
		t.Fatalf("unexpected award %+v", awards[0].Achievement)
	}
}

func TestEvaluateIgnoresMissingBaseline(t *testing.T) {
	awards := Evaluate(
		model.SensorReading{Building: "x", MetricType: model.MetricElectricity, Value: -5, Timestamp: at},
		model.UserBaseline{UserID: "dave"},
	)
	if len(awards) != 0 {
		t.Fatalf("expected no award for zero baseline, got %+v", awards)
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	ledger := NewMemoryLedger()
	r := model.SensorReading{Building: "x", MetricType: model.MetricElectricity, Value: 79, Timestamp: at}
	award := Evaluate(r, model.UserBaseline{UserID: "alice", BaselineEnergy: 100})[0]

	granted, err := Grant(context.Background(), ledger, award)
	if err != nil || !granted {
		t.Fatalf("expected first grant, got %v (err %v)", granted, err)
	}
	granted, err = Grant(context.Background(), ledger, award)
	if err != nil {
		t.Fatalf("duplicate grant must not error: %v", err)
	}
	if granted {
		t.Fatalf("expected duplicate grant to be skipped")
	}
	list, _ := ledger.ListByUser(context.Background(), "alice")
	if len(list) != 1 {
		t.Fatalf("expected a single stored achievement, got %d", len(list))
	}
}

func TestGrantConcurrentDeliveriesAwardOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	award := Award{Achievement: model.Achievement{UserID: "eve", Type: model.AchievementWaterGuardian, RewardTokens: 75, EarnedDate: at}}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := Grant(context.Background(), ledger, award); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

type failingLedger struct{}

func (failingLedger) CreateIfAbsent(context.Context, model.Achievement) (bool, error) {
	return false, errors.New("connection reset")
}

func TestGrantSurfacesLedgerErrors(t *testing.T) {
	award := Award{Achievement: model.Achievement{UserID: "frank", Type: model.AchievementEnergySaver}}
	if _, err := Grant(context.Background(), failingLedger{}, award); err == nil {
		t.Fatalf("expected ledger error to surface")
	}
	if _, err := Grant(context.Background(), nil, award); err == nil {
		t.Fatalf("expected nil ledger to be rejected")
	}
}
