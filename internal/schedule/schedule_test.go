// v0
// internal/schedule/schedule_test.go
package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewRejectsBadInput(t *testing.T) {
	run := func(context.Context, time.Time) (model.DailyReport, error) { return model.DailyReport{}, nil }
	_, err := New("not a cron", run, 0, discard())
	assert.Error(t, err)
	_, err = New("", nil, 0, discard())
	assert.Error(t, err)
	_, err = New("", run, 0, nil)
	assert.Error(t, err)

	d, err := New("", run, 0, discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, d.spec)
}

func TestTickReportsOnPreviousUTCDay(t *testing.T) {
	days := make(chan time.Time, 1)
	d, err := New(DefaultSpec, func(_ context.Context, day time.Time) (model.DailyReport, error) {
		days <- day
		return model.DailyReport{Date: model.DayKey(day)}, nil
	}, time.Second, discard())
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2024, 7, 11, 2, 0, 0, 0, time.UTC) }

	require.NoError(t, d.Start(context.Background()))
	d.tick()
	require.NoError(t, d.Stop(context.Background()))

	select {
	case day := <-days:
		assert.Equal(t, "2024-07-10", model.DayKey(day))
	default:
		t.Fatalf("expected the job to run")
	}
}

func TestTickBeforeStartIsIgnored(t *testing.T) {
	called := false
	d, err := New("", func(context.Context, time.Time) (model.DailyReport, error) {
		called = true
		return model.DailyReport{}, nil
	}, 0, discard())
	require.NoError(t, err)
	d.tick()
	assert.False(t, called)
	assert.NoError(t, d.Stop(context.Background()))
}

func TestRunForAppliesTimeoutAndSurfacesErrors(t *testing.T) {
	boom := errors.New("storage down")
	d, err := New("", func(ctx context.Context, _ time.Time) (model.DailyReport, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected a deadline")
		}
		return model.DailyReport{}, boom
	}, time.Minute, discard())
	require.NoError(t, err)

	_, err = d.RunFor(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
}
