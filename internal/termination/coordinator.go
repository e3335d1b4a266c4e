package termination

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/pkg/salvodto"
	"go.uber.org/zap"
)

// Reason is why a match ended.
type Reason = match.Reason

const (
	ReasonPlayerWon         = match.ReasonPlayerWon
	ReasonPlayerLeftTheGame = match.ReasonPlayerLeftTheGame
)

// MatchUpdater is the part of the match store the coordinator needs.
type MatchUpdater interface {
	Update(ctx context.Context, id string, fn func(*match.Match) error) (*match.Match, error)
}

// Coordinator closes matches: it marks the match finalized, records stats and
// tells the match room. Each match is finalized at most once.
type Coordinator struct {
	matches  MatchUpdater
	repo     stats.Repository
	bc       match.Broadcaster
	elo      ruleset.Elo
	now      func() time.Time
	failures atomic.Int64
}

func NewCoordinator(matches MatchUpdater, repo stats.Repository, bc match.Broadcaster, elo ruleset.Elo) *Coordinator {
	return &Coordinator{
		matches: matches,
		repo:    repo,
		bc:      bc,
		elo:     elo,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StatsFailures counts terminations that could not be finalized or whose
// bookkeeping did not fully persist.
func (c *Coordinator) StatsFailures() int64 { return c.failures.Load() }

// Terminate finalizes matchID with winnerID. If the match already ended (for
// example by the shot that sank the last ship) the stored winner and reason win
// over the arguments. It returns false without side effects when the match was
// already finalized.
func (c *Coordinator) Terminate(ctx context.Context, matchID, winnerID string, reason Reason) (bool, error) {
	log := obslog.L().With(zap.String("match_id", matchID))
	did := false
	m, err := c.matches.Update(ctx, matchID, func(cur *match.Match) error {
		did = false
		if cur.Finalized {
			return nil
		}
		if !cur.Terminated() {
			if !cur.IsParticipant(winnerID) {
				return match.ErrNotParticipant
			}
			now := c.now()
			cur.Status = match.StatusTerminated
			cur.WinnerID = winnerID
			cur.Reason = reason
			cur.EndTime = &now
			cur.UpdatedAt = now
		}
		cur.Finalized = true
		did = true
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, match.ErrMatchNotFound):
			log.Error("match_terminate_not_found", zap.String("winner_id", winnerID))
		case errors.Is(err, match.ErrNotParticipant):
		default:
			// the match may already be TERMINATED; a later read finishes it
			c.failures.Add(1)
			log.Error("match_terminate_update_error", zap.Error(err))
		}
		return false, err
	}
	if !did {
		log.Debug("match_terminate_noop")
		return false, nil
	}

	result := ComputeStats(m)
	log.Info("match_terminate",
		zap.String("winner_id", result.WinnerID),
		zap.String("loser_id", result.LoserID),
		zap.String("reason", result.Reason),
		zap.Int("total_shots", result.TotalShots),
		zap.Int("ships_destroyed", result.ShipsDestroyed),
	)
	if err := c.record(ctx, m, result); err != nil {
		c.failures.Add(1)
		log.Error("stats_update_error", zap.Error(err))
	}

	// players learn the match ended even when bookkeeping failed
	payload := salvodto.MatchTerminated{WinnerUsername: m.WinnerID, Reason: string(m.Reason)}
	if c.bc != nil {
		if err := c.bc.Emit(ctx, m.ID, salvodto.EventMatchTerminated, payload); err != nil {
			log.Warn("broadcast_error", zap.String("event", salvodto.EventMatchTerminated), zap.Error(err))
		}
	}
	return true, nil
}

// record persists the match result and both players' deltas. Every step is
// attempted; the joined error reports all that failed.
func (c *Coordinator) record(ctx context.Context, m *match.Match, result stats.MatchResult) error {
	if c.repo == nil {
		return errors.New("no stats repository")
	}
	var errs []error
	if err := c.repo.InsertMatchResult(ctx, result); err != nil && !errors.Is(err, stats.ErrDuplicateResult) {
		errs = append(errs, err)
	}
	for _, d := range Deltas(m, c.elo) {
		if _, err := c.repo.ApplyDelta(ctx, d, c.elo.Initial); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
