// v0
// internal/schedule/schedule.go
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// DefaultSpec fires every day at 02:00 UTC.
const DefaultSpec = "0 2 * * *"

// DailyFunc produces the report for the UTC calendar day containing day.
type DailyFunc func(ctx context.Context, day time.Time) (model.DailyReport, error)

// Daily triggers DailyFunc for the previous UTC day on a cron schedule.
type Daily struct {
	spec    string
	run     DailyFunc
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	cron       *cron.Cron
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	registered bool
}

// New validates spec and prepares a scheduler in UTC. Each run is bounded
// by timeout, zero meaning no bound.
func New(spec string, run DailyFunc, timeout time.Duration, log *slog.Logger) (*Daily, error) {
	if run == nil {
		return nil, errors.New("daily func must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Daily{
		spec:    spec,
		run:     run,
		timeout: timeout,
		log:     log.With(slog.String("component", "schedule")),
		now:     time.Now,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}, nil
}

// Start registers the job and starts the cron loop. Jobs run with contexts
// derived from ctx.
func (d *Daily) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if !d.registered {
		if _, err := d.cron.AddFunc(d.spec, d.tick); err != nil {
			return fmt.Errorf("register daily job: %w", err)
		}
		d.registered = true
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.cron.Start()
	d.running = true
	d.log.Info("schedule_started", slog.String("spec", d.spec))
	return nil
}

// Stop halts the cron loop and waits for a running job to return or ctx to
// expire.
func (d *Daily) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	done := d.cron.Stop().Done()
	cancel()
	select {
	case <-done:
		d.log.Info("schedule_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daily) tick() {
	d.mu.Lock()
	parent := d.ctx
	d.mu.Unlock()
	if parent == nil {
		return
	}
	yesterday := d.now().UTC().AddDate(0, 0, -1)
	if _, err := d.RunFor(parent, yesterday); err != nil {
		d.log.Error("schedule_daily_failed", slog.String("date", model.DayKey(yesterday)), slog.Any("err", err))
	}
}

// RunFor generates the report of day immediately.
func (d *Daily) RunFor(ctx context.Context, day time.Time) (model.DailyReport, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := d.now()
	rep, err := d.run(ctx, day)
	if err != nil {
		return model.DailyReport{}, err
	}
	d.log.Info("schedule_daily_done",
		slog.String("date", rep.Date),
		slog.Int("score", rep.SustainabilityScore),
		slog.Duration("took", d.now().Sub(start)),
	)
	return rep, nil
}
