// v0
// internal/leaderboard/aggregate.go
package leaderboard

import (
	"sort"
	"time"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

const (
	carbonWeight = 10
	actionWeight = 5
)

// Score applies the leaderboard formula carbon·10 + actions·5 + tokens.
func Score(carbon float64, actions, tokens int) float64 {
	return carbon*carbonWeight + float64(actions*actionWeight) + float64(tokens)
}

// Aggregate folds the actions of one calendar day into one entry per user.
// Actions dated outside day are ignored. The result only depends on the
// multiset of actions, so recomputing a day yields identical entries.
func Aggregate(day time.Time, actions []model.UserAction, updatedAt time.Time) map[string]model.LeaderboardEntry {
	key := model.DayKey(day)
	out := make(map[string]model.LeaderboardEntry)
	for _, a := range actions {
		if model.DayKey(a.Date) != key || a.UserID == "" {
			continue
		}
		e := out[a.UserID]
		e.UserID = a.UserID
		e.Date = key
		e.TotalCarbonSaved += a.CarbonSaved
		e.TotalActions++
		e.TotalTokens += a.TokensEarned
		out[a.UserID] = e
	}
	for id, e := range out {
		e.Score = Score(e.TotalCarbonSaved, e.TotalActions, e.TotalTokens)
		e.UpdatedAt = updatedAt
		out[id] = e
	}
	return out
}

// Ranked is a leaderboard entry with its position.
type Ranked struct {
	Rank int `json:"rank"`
	model.LeaderboardEntry
}

// Rank orders entries by score descending, breaking ties by user id
// ascending, and assigns ranks 1..N by position.
func Rank(entries map[string]model.LeaderboardEntry) []Ranked {
	out := make([]Ranked, 0, len(entries))
	for _, e := range entries {
		out = append(out, Ranked{LeaderboardEntry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// RankOf returns the rank of userID within ranked, or len(ranked)+1 when the
// user has no entry.
func RankOf(ranked []Ranked, userID string) int {
	for _, r := range ranked {
		if r.UserID == userID {
			return r.Rank
		}
	}
	return len(ranked) + 1
}
