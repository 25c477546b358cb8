// v1
// internal/circuitbreaker/breaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// State is the position of a breaker in its closed → open → half-open cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // time spent open before probing again
	SuccessesToClose int           // half-open successes required to close
}

func (c Config) normalized() Config {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessesToClose < 1 {
		c.SuccessesToClose = 1
	}
	return c
}

// Breaker guards calls to an unreliable dependency.
type Breaker struct {
	name   string
	cfg    Config
	log    *slog.Logger
	probe  func(ctx context.Context) error
	notify func(name string, from, to State)
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithLogger routes breaker events to log.
func WithLogger(log *slog.Logger) Option {
	return func(b *Breaker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithStateListener registers fn to be called after every state change.
func WithStateListener(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.notify = fn }
}

// New builds a closed breaker. probe, when set, runs before the first call
// admitted in half-open state.
func New(name string, cfg Config, probe func(ctx context.Context) error, opts ...Option) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.normalized(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		probe: probe,
		now:   time.Now,
		state: Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(slog.String("component", "circuit_breaker"), slog.String("name", name))
	b.log.Info("breaker_created",
		slog.Int("max_failures", b.cfg.MaxFailures),
		slog.String("reset_timeout", b.cfg.ResetTimeout.String()),
		slog.Int("successes_to_close", b.cfg.SuccessesToClose),
	)
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op unless the breaker is open. A failure that trips the
// breaker is reported as ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}
	if probing && b.probe != nil {
		if perr := b.probe(ctx); perr != nil {
			b.log.Warn("breaker_probe_failed", slog.Any("err", perr))
			b.trip()
			return ErrOpen
		}
		b.log.Info("breaker_probe_ok")
	}

	if err := op(ctx); err != nil {
		if b.onFailure(err) {
			return ErrOpen
		}
		return err
	}
	b.onSuccess()
	return nil
}

// admit decides whether a call may proceed and reports whether it is the
// first call after the open period elapsed.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return false, nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		return false, ErrOpen
	}
	b.transition(HalfOpen)
	b.successes = 0
	return true, nil
}

func (b *Breaker) trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt = b.now()
	b.transition(Open)
}

// onFailure records err and reports whether the breaker is now open.
func (b *Breaker) onFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.log.Warn("operation_failure", slog.Int("failures", b.failures), slog.Any("err", err))
	if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
		b.openedAt = b.now()
		b.transition(Open)
		return true
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessesToClose {
			b.failures = 0
			b.transition(Closed)
		}
	default:
		b.failures = 0
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.log.Info("breaker_state_changed", slog.String("from", from.String()), slog.String("to", to.String()))
	if b.notify != nil {
		b.notify(b.name, from, to)
	}
}
