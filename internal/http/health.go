// v0
// internal/http/health.go
package httpserver

import (
	"context"
	"sync"
)

// Checker probes an external dependency for readiness.
type Checker func(ctx context.Context) error

// HealthState tracks readiness of the HTTP API. Liveness holds while the
// process runs; readiness flips on once startup completes and off during
// shutdown, and additionally requires every registered checker to pass.
type HealthState struct {
	mu       sync.RWMutex
	ready    bool
	checkers map[string]Checker
}

// NewHealthState starts not ready.
func NewHealthState() *HealthState {
	return &HealthState{checkers: make(map[string]Checker)}
}

// SetReady flips the readiness flag.
func (h *HealthState) SetReady(value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = value
}

// Ready reports the readiness flag.
func (h *HealthState) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// AddChecker registers a dependency probe consulted by Check.
func (h *HealthState) AddChecker(name string, c Checker) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// Check returns the failures of the registered probes keyed by name. An
// empty map means every dependency answered.
func (h *HealthState) Check(ctx context.Context) map[string]string {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	failures := make(map[string]string)
	for name, c := range checkers {
		if err := c(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}
