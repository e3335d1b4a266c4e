package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/pkg/salvodto"
	"go.uber.org/zap"
)

// Engine runs the match state machine. Mutations on one match are serialized by
// an in-process lock plus the store's WATCH; different matches run in parallel.
type Engine struct {
	store *Store
	rules ruleset.Rules
	bc    Broadcaster
	term  Terminator
	locks *keyedMutex
	now   func() time.Time
	newID func() string
}

func NewEngine(store *Store, rules ruleset.Rules, bc Broadcaster) *Engine {
	return &Engine{
		store: store,
		rules: rules,
		bc:    bc,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// AttachTerminator wires the coordinator that finalizes ended matches.
func (e *Engine) AttachTerminator(t Terminator) {
	if e != nil {
		e.term = t
	}
}

func (e *Engine) Rules() ruleset.Rules { return e.rules }

// CreateMatch opens a match between two queued players. player1 shoots first.
func (e *Engine) CreateMatch(ctx context.Context, player1, player2 string) (*Match, error) {
	player1, player2 = strings.TrimSpace(player1), strings.TrimSpace(player2)
	if player1 == "" || player2 == "" || player1 == player2 {
		return nil, ErrInvalidPlayers
	}
	now := e.now()
	m := &Match{
		ID:         e.newID(),
		Status:     StatusAwaitingPlacement,
		Player1:    player1,
		Player2:    player2,
		Grid1:      *grid.NewGrid(e.rules.BoardSize),
		Grid2:      *grid.NewGrid(e.rules.BoardSize),
		TurnHolder: player1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.Create(ctx, m); err != nil {
		return nil, err
	}
	obslog.L().Info("match_create",
		zap.String("match_id", m.ID),
		zap.String("player1", m.Player1),
		zap.String("player2", m.Player2),
	)
	return m, nil
}

// PlaceShips records userID's fleet. The match starts once both fleets are placed.
func (e *Engine) PlaceShips(ctx context.Context, matchID, userID string, ships []grid.Ship) (*Match, error) {
	unlock := e.locks.Lock(matchID)
	defer unlock()

	var started bool
	m, err := e.store.Update(ctx, matchID, func(cur *Match) error {
		started = false
		if !cur.IsParticipant(userID) {
			return ErrNotParticipant
		}
		switch cur.Status {
		case StatusTerminated:
			return ErrMatchEnded
		case StatusInProgress:
			return ErrPlacementClosed
		}
		own := cur.GridOf(userID)
		if own.Placed() {
			return ErrAlreadyPlaced
		}
		if !grid.FleetMatches(ships, e.rules.Fleet) {
			return ErrFleetMismatch
		}
		if err := own.PlaceShips(ships); err != nil {
			return err
		}
		if cur.Grid1.Placed() && cur.Grid2.Placed() {
			cur.Status = StatusInProgress
			cur.TurnHolder = cur.Player1
			started = true
		}
		cur.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		e.resumeIfEnded(ctx, matchID, err)
		return nil, err
	}

	obslog.L().Info("ships_placed",
		zap.String("match_id", m.ID),
		zap.String("user_id", userID),
		zap.Int("ships", len(ships)),
		zap.Bool("started", started),
	)
	if started {
		e.emit(ctx, m.ID, salvodto.EventMatchStarted, salvodto.MatchStarted{MatchID: m.ID, TurnHolder: m.TurnHolder})
	}
	return m, nil
}

// FireShot resolves one shot by userID at the opponent's grid. Sinking the last
// ship ends the match in the same write and hands it to the terminator.
func (e *Engine) FireShot(ctx context.Context, matchID, userID string, target grid.Coordinate) (*ShotOutcome, error) {
	unlock := e.locks.Lock(matchID)
	defer unlock()

	var res grid.ShotResult
	m, err := e.store.Update(ctx, matchID, func(cur *Match) error {
		if !cur.IsParticipant(userID) {
			return ErrNotParticipant
		}
		switch cur.Status {
		case StatusAwaitingPlacement:
			return ErrNotStarted
		case StatusTerminated:
			return ErrMatchEnded
		}
		if cur.TurnHolder != userID {
			return ErrNotYourTurn
		}
		opponent := cur.Opponent(userID)
		r, err := cur.GridOf(opponent).ApplyShot(target)
		if err != nil {
			return err
		}
		res = r
		now := e.now()
		cur.UpdatedAt = now
		if r.AllSunk {
			cur.Status = StatusTerminated
			cur.WinnerID = userID
			cur.Reason = ReasonPlayerWon
			cur.EndTime = &now
			return nil
		}
		if !(r.Hit && e.rules.TurnPolicy == ruleset.TurnExtraOnHit) {
			cur.TurnHolder = opponent
		}
		return nil
	})
	if err != nil {
		e.resumeIfEnded(ctx, matchID, err)
		return nil, err
	}

	obslog.L().Info("shot_fired",
		zap.String("match_id", m.ID),
		zap.String("user_id", userID),
		zap.Int("row", target.Row),
		zap.Int("col", target.Col),
		zap.Bool("hit", res.Hit),
		zap.Bool("sunk", res.ShipSunk != nil),
		zap.Bool("all_sunk", res.AllSunk),
	)
	e.emit(ctx, m.ID, salvodto.EventShotFired, salvodto.ShotFired{
		MatchID:   m.ID,
		ShooterID: userID,
		Row:       target.Row,
		Col:       target.Col,
		Hit:       res.Hit,
		Sunk:      res.ShipSunk != nil,
		AllSunk:   res.AllSunk,
	})
	if res.AllSunk {
		if fin := e.terminate(ctx, m.ID, userID, ReasonPlayerWon); fin != nil {
			m = fin
		}
	}
	return &ShotOutcome{Result: res, Match: m}, nil
}

// LeaveMatch forfeits the match for userID; the opponent wins. Leaving a match
// that already ended is a no-op.
func (e *Engine) LeaveMatch(ctx context.Context, matchID, userID string) (*Match, error) {
	unlock := e.locks.Lock(matchID)
	defer unlock()

	m, err := e.store.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if m.Terminated() {
		return e.resumeFinalize(ctx, m), nil
	}

	winner := m.Opponent(userID)
	obslog.L().Info("match_leave",
		zap.String("match_id", m.ID),
		zap.String("user_id", userID),
		zap.String("winner_id", winner),
	)
	if e.term == nil {
		return nil, fmt.Errorf("match %s: no terminator attached", matchID)
	}
	if _, err := e.term.Terminate(ctx, m.ID, winner, ReasonPlayerLeftTheGame); err != nil {
		return nil, err
	}
	return e.store.Load(ctx, matchID)
}

// GetMatch loads the match. An ended match whose finalization did not complete
// is finalized on the way.
func (e *Engine) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	m, err := e.store.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Terminated() || m.Finalized {
		return m, nil
	}
	unlock := e.locks.Lock(matchID)
	defer unlock()
	return e.resumeFinalize(ctx, m), nil
}

// resumeFinalize retries the termination of an ended match that was never
// finalized, e.g. when the coordinator failed right after the winning shot.
// The coordinator keeps the stored winner and reason.
func (e *Engine) resumeFinalize(ctx context.Context, m *Match) *Match {
	if m == nil || !m.Terminated() || m.Finalized {
		return m
	}
	obslog.L().Info("match_finalize_resume", zap.String("match_id", m.ID))
	if fin := e.terminate(ctx, m.ID, m.WinnerID, m.Reason); fin != nil {
		return fin
	}
	return m
}

// resumeIfEnded is called when an operation was rejected because the match
// ended; it gives the pending finalization another chance.
func (e *Engine) resumeIfEnded(ctx context.Context, matchID string, err error) {
	if !errors.Is(err, ErrMatchEnded) {
		return
	}
	if m, lerr := e.store.Load(ctx, matchID); lerr == nil {
		e.resumeFinalize(ctx, m)
	}
}

// ActiveMatchFor returns the id of userID's running match, or "".
func (e *Engine) ActiveMatchFor(ctx context.Context, userID string) (string, error) {
	return e.store.ActiveMatchFor(ctx, userID)
}

func (e *Engine) terminate(ctx context.Context, matchID, winnerID string, reason Reason) *Match {
	if e.term == nil {
		obslog.L().Error("match_terminate_unwired", zap.String("match_id", matchID))
		return nil
	}
	if _, err := e.term.Terminate(ctx, matchID, winnerID, reason); err != nil {
		obslog.L().Error("match_terminate_error", zap.String("match_id", matchID), zap.Error(err))
		return nil
	}
	m, err := e.store.Load(ctx, matchID)
	if err != nil {
		return nil
	}
	return m
}

func (e *Engine) emit(ctx context.Context, room, event string, payload any) {
	if e.bc == nil {
		return
	}
	if err := e.bc.Emit(ctx, room, event, payload); err != nil {
		obslog.L().Warn("broadcast_error", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}
