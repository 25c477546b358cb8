// v0
// internal/metricstore/store.go
package metricstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// shard holds the latest value of every building for a single metric type
// together with the campus total derived from them.
type shard struct {
	mu     sync.RWMutex
	values map[string]float64
	order  []string
	total  float64
}

// Store keeps the latest reading per (building, metric) pair and the
// campus-wide totals merged from them. Each metric type owns its shard so
// updates for different metrics never contend. It is safe for concurrent use.
type Store struct {
	shards map[model.MetricType]*shard
}

// BuildingValue is one cell of a snapshot.
type BuildingValue struct {
	Building string           `json:"building"`
	Metric   model.MetricType `json:"metric_type"`
	Value    float64          `json:"value"`
}

// Snapshot is a consistent per-metric copy of the store contents.
type Snapshot struct {
	Buildings    []BuildingValue              `json:"buildings"`
	CampusTotals map[model.MetricType]float64 `json:"campus_totals"`
}

// sum recomputes the campus total in first-seen building order. Callers
// must hold the write lock.
func (sh *shard) sum() float64 {
	var total float64
	for _, name := range sh.order {
		total += sh.values[name]
	}
	return total
}

// New allocates a shard for every supported metric type.
func New() *Store {
	shards := make(map[model.MetricType]*shard, len(model.MetricTypes()))
	for _, mt := range model.MetricTypes() {
		shards[mt] = &shard{values: make(map[string]float64)}
	}
	return &Store{shards: shards}
}

// Update records value as the latest reading of building for metric and
// returns the campus total for metric. The total is the sum of the latest
// value of every building, so repeated readings from one building replace
// rather than accumulate. Unknown metrics are rejected without touching state.
func (s *Store) Update(building string, metric model.MetricType, value float64) (float64, error) {
	sh, ok := s.shards[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownMetric, string(metric))
	}
	if building == "" {
		return 0, fmt.Errorf("%w: building missing", model.ErrInvalidReading)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.values[building]; !exists {
		sh.order = append(sh.order, building)
	}
	sh.values[building] = value
	sh.total = sh.sum()
	return sh.total, nil
}

// CampusTotal returns the current campus-wide total for metric.
func (s *Store) CampusTotal(metric model.MetricType) (float64, error) {
	sh, ok := s.shards[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownMetric, string(metric))
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.total, nil
}

// Value returns the latest value recorded for building and metric.
func (s *Store) Value(building string, metric model.MetricType) (float64, bool) {
	sh, ok := s.shards[metric]
	if !ok {
		return 0, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.values[building]
	return v, ok
}

// Snapshot copies the store contents. Buildings are sorted by metric order
// and then by building name so the output is deterministic.
func (s *Store) Snapshot() Snapshot {
	out := Snapshot{CampusTotals: make(map[model.MetricType]float64, len(s.shards))}
	for _, mt := range model.MetricTypes() {
		sh := s.shards[mt]
		sh.mu.RLock()
		names := make([]string, len(sh.order))
		copy(names, sh.order)
		sort.Strings(names)
		for _, name := range names {
			out.Buildings = append(out.Buildings, BuildingValue{Building: name, Metric: mt, Value: sh.values[name]})
		}
		out.CampusTotals[mt] = sh.total
		sh.mu.RUnlock()
	}
	return out
}
