package match

import (
	"context"
	"errors"
	"time"

	"github.com/park285/salvo/internal/grid"
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrNotParticipant   = errors.New("user is not a participant of this match")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNotStarted       = errors.New("match has not started")
	ErrMatchEnded       = errors.New("match has ended")
	ErrPlacementClosed  = errors.New("ship placement is closed")
	ErrAlreadyPlaced    = errors.New("ships already placed")
	ErrFleetMismatch    = errors.New("ships do not match the fleet")
	ErrConcurrentUpdate = errors.New("match was modified concurrently")
	ErrPlayerBusy       = errors.New("player already has an active match")
	ErrInvalidPlayers   = errors.New("a match needs two distinct players")
)

// Status is the match lifecycle. Transitions only move forward:
// AWAITING_PLACEMENT -> IN_PROGRESS -> TERMINATED, or straight to TERMINATED on forfeit.
type Status string

const (
	StatusAwaitingPlacement Status = "AWAITING_PLACEMENT"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusTerminated        Status = "TERMINATED"
)

// Reason explains why a match was terminated.
type Reason string

const (
	ReasonPlayerWon         Reason = "PlayerWon"
	ReasonPlayerLeftTheGame Reason = "PlayerLeftTheGame"
)

// Match is the persisted state of one game, stored as JSON under salvo:match:<id>.
// Player1 is the earlier queue entry and shoots first. Finalized is set once, by
// the termination coordinator, after stats were computed and the termination
// event was sent.
type Match struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Player1    string     `json:"player1"`
	Player2    string     `json:"player2"`
	Grid1      grid.Grid  `json:"grid1"`
	Grid2      grid.Grid  `json:"grid2"`
	TurnHolder string     `json:"turnHolder,omitempty"`
	WinnerID   string     `json:"winnerId,omitempty"`
	Reason     Reason     `json:"reason,omitempty"`
	Finalized  bool       `json:"finalized"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}

func (m *Match) IsParticipant(userID string) bool {
	return userID != "" && (userID == m.Player1 || userID == m.Player2)
}

// Opponent returns the other player, or "" when userID is not in the match.
func (m *Match) Opponent(userID string) string {
	switch userID {
	case m.Player1:
		return m.Player2
	case m.Player2:
		return m.Player1
	}
	return ""
}

// GridOf returns the grid owned by userID (the one holding their ships).
func (m *Match) GridOf(userID string) *grid.Grid {
	switch userID {
	case m.Player1:
		return &m.Grid1
	case m.Player2:
		return &m.Grid2
	}
	return nil
}

func (m *Match) Terminated() bool { return m.Status == StatusTerminated }

// InvariantViolation is the panic value for match documents that contradict themselves.
type InvariantViolation struct {
	MatchID string
	Detail  string
}

func (v InvariantViolation) Error() string {
	return "match " + v.MatchID + " invariant violated: " + v.Detail
}

// checkInvariants panics when a state transition produced an impossible document.
func (m *Match) checkInvariants() {
	fail := func(d string) { panic(InvariantViolation{MatchID: m.ID, Detail: d}) }
	if m.Player1 == "" || m.Player2 == "" || m.Player1 == m.Player2 {
		fail("players")
	}
	switch m.Status {
	case StatusAwaitingPlacement:
		if m.WinnerID != "" || m.Finalized {
			fail("awaiting placement with a result")
		}
	case StatusInProgress:
		if !m.Grid1.Placed() || !m.Grid2.Placed() {
			fail("in progress without both fleets")
		}
		if !m.IsParticipant(m.TurnHolder) {
			fail("turn holder is not a participant")
		}
	case StatusTerminated:
		if !m.IsParticipant(m.WinnerID) {
			fail("terminated without a participant winner")
		}
		if m.EndTime == nil {
			fail("terminated without end time")
		}
	default:
		fail("unknown status " + string(m.Status))
	}
	if m.Finalized && m.Status != StatusTerminated {
		fail("finalized before termination")
	}
}

// Broadcaster delivers an event to a room. Implementations must not block the caller
// for long; delivery failures are reported but never undo a committed transition.
type Broadcaster interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// Terminator closes a match exactly once. It reports whether this call did the work.
type Terminator interface {
	Terminate(ctx context.Context, matchID, winnerID string, reason Reason) (bool, error)
}

// ShotOutcome is what a shooter learns from one shot.
type ShotOutcome struct {
	Result grid.ShotResult
	Match  *Match
}
