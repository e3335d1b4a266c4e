package stats

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("stats not found")
	ErrDuplicateResult = errors.New("match result already recorded")
)

// UserStats is a player's aggregate record. Elo never drops below zero and
// TopElo is the highest Elo ever held.
type UserStats struct {
	UserID         string    `json:"userId"`
	Elo            int       `json:"elo"`
	TopElo         int       `json:"topElo"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	ShipsDestroyed int       `json:"shipsDestroyed"`
	TotalShots     int       `json:"totalShots"`
	TotalHits      int       `json:"totalHits"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MatchResult is written once when a match is finalized.
type MatchResult struct {
	MatchID        string    `json:"matchId"`
	WinnerID       string    `json:"winnerId"`
	LoserID        string    `json:"loserId"`
	Reason         string    `json:"reason"`
	EndTime        time.Time `json:"endTime"`
	TotalShots     int       `json:"totalShots"`
	ShipsDestroyed int       `json:"shipsDestroyed"`
}

// Delta is one match's contribution to a player's record.
type Delta struct {
	UserID         string
	Won            bool
	Elo            int
	ShipsDestroyed int
	TotalShots     int
	TotalHits      int
}

type Repository interface {
	// GetUserStats returns ErrNotFound for users who never finished a match.
	GetUserStats(ctx context.Context, userID string) (*UserStats, error)
	// ApplyDelta adds d to the user's record atomically, creating it from
	// initialElo when absent, and returns the new record.
	ApplyDelta(ctx context.Context, d Delta, initialElo int) (*UserStats, error)
	// InsertMatchResult returns ErrDuplicateResult when the match already has one.
	InsertMatchResult(ctx context.Context, r MatchResult) error
	GetMatchResult(ctx context.Context, matchID string) (*MatchResult, error)
	Close() error
}

// Apply is the single definition of how a delta changes a record. The SQL in
// the postgres repository mirrors it.
func Apply(s UserStats, d Delta) UserStats {
	s.Elo += d.Elo
	if s.Elo < 0 {
		s.Elo = 0
	}
	if s.Elo > s.TopElo {
		s.TopElo = s.Elo
	}
	if d.Won {
		s.Wins++
	} else {
		s.Losses++
	}
	s.ShipsDestroyed += d.ShipsDestroyed
	s.TotalShots += d.TotalShots
	s.TotalHits += d.TotalHits
	return s
}

// Fresh is the record of a player before their first finished match.
func Fresh(userID string, initialElo int) UserStats {
	if initialElo < 0 {
		initialElo = 0
	}
	return UserStats{UserID: userID, Elo: initialElo, TopElo: initialElo}
}
