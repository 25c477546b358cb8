// v0
// internal/achievement/memory.go
package achievement

import (
	"context"
	"sort"
	"sync"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

type ledgerKey struct {
	user string
	typ  model.AchievementType
}

// MemoryLedger is an in-process Ledger guarded by a single mutex so the
// existence check and the insert happen atomically.
type MemoryLedger struct {
	mu    sync.Mutex
	items map[ledgerKey]model.Achievement
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{items: make(map[ledgerKey]model.Achievement)}
}

// CreateIfAbsent implements Ledger.
func (l *MemoryLedger) CreateIfAbsent(ctx context.Context, ach model.Achievement) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := ledgerKey{user: ach.UserID, typ: ach.Type}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.items[key]; exists {
		return false, nil
	}
	l.items[key] = ach
	return true, nil
}

// ListByUser returns the achievements of userID ordered by type.
func (l *MemoryLedger) ListByUser(ctx context.Context, userID string) ([]model.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Achievement
	for key, ach := range l.items {
		if key.user == userID {
			out = append(out, ach)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
