// v1
// internal/leaderboard/board.go
package leaderboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// Source exposes the persisted leaderboard rows the board mirrors.
type Source interface {
	LatestLeaderboardDate(ctx context.Context) (string, bool, error)
	LeaderboardForDate(ctx context.Context, date string) ([]model.LeaderboardEntry, error)
}

// Snapshot is the ranked leaderboard of one calendar day.
type Snapshot struct {
	Date        string
	GeneratedAt time.Time
	Entries     []Ranked
}

// Board keeps ranked snapshots per day in memory so profile queries do not
// re-sort on every request. Each Replace overwrites the day wholesale. It is
// safe for concurrent use.
type Board struct {
	source Source
	log    *slog.Logger

	mu     sync.RWMutex
	boards map[string]Snapshot
	latest string
}

// NewBoard wires a board to source. A nil source leaves Refresh as a no-op.
func NewBoard(source Source, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Board{
		source: source,
		log:    logger.With(slog.String("component", "leaderboard")),
		boards: make(map[string]Snapshot),
	}
}

// Replace ranks entries and stores them as the snapshot for date, discarding
// whatever was stored for that date before.
func (b *Board) Replace(date string, entries map[string]model.LeaderboardEntry, at time.Time) Snapshot {
	snap := Snapshot{Date: date, GeneratedAt: at.UTC(), Entries: Rank(entries)}

	b.mu.Lock()
	b.boards[date] = snap
	if date >= b.latest {
		b.latest = date
	}
	b.mu.Unlock()

	b.log.Info("leaderboard_replaced",
		slog.String("date", date),
		slog.Int("entries", len(snap.Entries)),
	)
	return cloneSnapshot(snap)
}

// Snapshot returns a copy of the ranked board for date.
func (b *Board) Snapshot(date string) (Snapshot, bool) {
	b.mu.RLock()
	snap, ok := b.boards[date]
	b.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return cloneSnapshot(snap), true
}

// Latest returns the board of the most recent day known.
func (b *Board) Latest() (Snapshot, bool) {
	b.mu.RLock()
	date := b.latest
	b.mu.RUnlock()
	if date == "" {
		return Snapshot{}, false
	}
	return b.Snapshot(date)
}

// Refresh reloads the most recent persisted day from the source.
func (b *Board) Refresh(ctx context.Context) error {
	if b.source == nil {
		return nil
	}
	date, ok, err := b.source.LatestLeaderboardDate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rows, err := b.source.LeaderboardForDate(ctx, date)
	if err != nil {
		return err
	}
	entries := make(map[string]model.LeaderboardEntry, len(rows))
	for _, row := range rows {
		entries[row.UserID] = row
	}
	b.Replace(date, entries, time.Now().UTC())
	return nil
}

// Run refreshes the board every interval until ctx is cancelled so
// instances sharing a database converge on the same ranking.
func (b *Board) Run(ctx context.Context, interval time.Duration) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	b.log.Info("leaderboard_refresh_loop_started", slog.String("interval", interval.String()))
	if err := b.Refresh(ctx); err != nil {
		b.log.Warn("leaderboard_refresh_failed", slog.Any("err", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("leaderboard_refresh_loop_stopped")
			return nil
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil {
				b.log.Warn("leaderboard_refresh_failed", slog.Any("err", err))
			}
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Date: s.Date, GeneratedAt: s.GeneratedAt, Entries: make([]Ranked, len(s.Entries))}
	copy(out.Entries, s.Entries)
	return out
}
