package termination

import (
	"time"

	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/internal/stats"
)

// ComputeStats derives the match result from the final grids. TotalShots counts
// shots received on both grids; ShipsDestroyed counts fully hit ships on both.
func ComputeStats(m *match.Match) stats.MatchResult {
	r := stats.MatchResult{
		MatchID:        m.ID,
		WinnerID:       m.WinnerID,
		LoserID:        m.Opponent(m.WinnerID),
		Reason:         string(m.Reason),
		TotalShots:     len(m.Grid1.ShotsReceived) + len(m.Grid2.ShotsReceived),
		ShipsDestroyed: m.Grid1.DestroyedCount() + m.Grid2.DestroyedCount(),
	}
	if m.EndTime != nil {
		r.EndTime = *m.EndTime
	} else {
		r.EndTime = time.Now().UTC()
	}
	return r
}

// Deltas are the per-player stat changes for a terminated match. Each player is
// credited with the shots they fired, i.e. those received by the opponent's grid.
func Deltas(m *match.Match, elo ruleset.Elo) []stats.Delta {
	loser := m.Opponent(m.WinnerID)
	return []stats.Delta{
		firedBy(m.WinnerID, m.GridOf(loser), true, elo.WinDelta),
		firedBy(loser, m.GridOf(m.WinnerID), false, elo.LossDelta),
	}
}

func firedBy(userID string, target *grid.Grid, won bool, eloDelta int) stats.Delta {
	d := stats.Delta{UserID: userID, Won: won, Elo: eloDelta}
	if target != nil {
		d.TotalShots = len(target.ShotsReceived)
		d.TotalHits = target.HitCount()
		d.ShipsDestroyed = target.DestroyedCount()
	}
	return d
}
