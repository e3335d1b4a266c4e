package match

import (
	"context"
	"errors"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/pkg/salvodto"
)

type emitted struct {
	Room, Event string
	Payload     any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(_ context.Context, room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room, event, payload})
	return nil
}

func (r *recorder) byEvent(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// finalizer marks the match finalized the way the real coordinator does.
type finalizer struct {
	store *Store
	mu    sync.Mutex
	calls []Reason
}

func (f *finalizer) Terminate(ctx context.Context, matchID, winnerID string, reason Reason) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, reason)
	f.mu.Unlock()
	did := false
	_, err := f.store.Update(ctx, matchID, func(m *Match) error {
		did = false
		if m.Finalized {
			return nil
		}
		if !m.Terminated() {
			now := m.UpdatedAt
			m.Status, m.WinnerID, m.Reason, m.EndTime = StatusTerminated, winnerID, reason, &now
		}
		m.Finalized = true
		did = true
		return nil
	})
	return did, err
}

func newTestEngine(t *testing.T, rules ruleset.Rules) (*Engine, *recorder, *finalizer) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewStore(rdb, 0)
	rec := &recorder{}
	e := NewEngine(store, rules, rec)
	fin := &finalizer{store: store}
	e.AttachTerminator(fin)
	return e, rec, fin
}

func smallRules(fleet ...int) ruleset.Rules {
	r := ruleset.Default()
	r.BoardSize = 5
	r.Fleet = fleet
	return r
}

func at(r, c int) grid.Coordinate { return grid.Coordinate{Row: r, Col: c} }

func ships(ss ...[]grid.Coordinate) []grid.Ship {
	out := make([]grid.Ship, 0, len(ss))
	for _, cells := range ss {
		out = append(out, grid.Ship{Cells: cells})
	}
	return out
}

// startedMatch creates a match between "p1" and "p2" and places a 2-cell and a
// 1-cell ship for both.
func startedMatch(t *testing.T, e *Engine) *Match {
	t.Helper()
	ctx := context.Background()
	m, err := e.CreateMatch(ctx, "p1", "p2")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	fleet := ships([]grid.Coordinate{at(0, 0), at(0, 1)}, []grid.Coordinate{at(4, 4)})
	if _, err := e.PlaceShips(ctx, m.ID, "p1", fleet); err != nil {
		t.Fatalf("PlaceShips p1: %v", err)
	}
	m, err = e.PlaceShips(ctx, m.ID, "p2", fleet)
	if err != nil {
		t.Fatalf("PlaceShips p2: %v", err)
	}
	return m
}

func TestCreateMatchIndexesPlayers(t *testing.T) {
	e, _, _ := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()

	m, err := e.CreateMatch(ctx, "p1", "p2")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.Status != StatusAwaitingPlacement || m.TurnHolder != "p1" {
		t.Fatalf("unexpected new match: %+v", m)
	}
	for _, p := range []string{"p1", "p2"} {
		id, err := e.ActiveMatchFor(ctx, p)
		if err != nil || id != m.ID {
			t.Fatalf("ActiveMatchFor(%s) = %q, %v", p, id, err)
		}
	}
	if _, err := e.CreateMatch(ctx, "p2", "p3"); !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("expected ErrPlayerBusy, got %v", err)
	}
	if _, err := e.CreateMatch(ctx, "p4", "p4"); !errors.Is(err, ErrInvalidPlayers) {
		t.Fatalf("expected ErrInvalidPlayers, got %v", err)
	}
	if _, err := e.GetMatch(ctx, "nope"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestPlaceShipsStartsMatch(t *testing.T) {
	e, rec, _ := newTestEngine(t, smallRules(2, 1))
	m := startedMatch(t, e)
	if m.Status != StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", m.Status)
	}
	if m.TurnHolder != "p1" {
		t.Fatalf("turn holder = %s, want p1", m.TurnHolder)
	}
	got := rec.byEvent(salvodto.EventMatchStarted)
	if len(got) != 1 || got[0].Room != m.ID {
		t.Fatalf("match-started events: %+v", got)
	}
}

func TestPlaceShipsRejections(t *testing.T) {
	e, _, _ := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()
	m, err := e.CreateMatch(ctx, "p1", "p2")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	good := ships([]grid.Coordinate{at(0, 0), at(0, 1)}, []grid.Coordinate{at(2, 2)})

	if _, err := e.PlaceShips(ctx, m.ID, "stranger", good); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := e.PlaceShips(ctx, m.ID, "p1", good[:1]); !errors.Is(err, ErrFleetMismatch) {
		t.Fatalf("expected ErrFleetMismatch, got %v", err)
	}
	overlap := ships([]grid.Coordinate{at(0, 0), at(0, 1)}, []grid.Coordinate{at(0, 1)})
	if _, err := e.PlaceShips(ctx, m.ID, "p1", overlap); !errors.Is(err, grid.ErrInvalidPlacement) {
		t.Fatalf("expected ErrInvalidPlacement, got %v", err)
	}
	if _, err := e.PlaceShips(ctx, m.ID, "p1", good); err != nil {
		t.Fatalf("PlaceShips: %v", err)
	}
	if _, err := e.PlaceShips(ctx, m.ID, "p1", good); !errors.Is(err, ErrAlreadyPlaced) {
		t.Fatalf("expected ErrAlreadyPlaced, got %v", err)
	}
	if _, err := e.FireShot(ctx, m.ID, "p1", at(0, 0)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := e.PlaceShips(ctx, m.ID, "p2", good); err != nil {
		t.Fatalf("PlaceShips p2: %v", err)
	}
	if _, err := e.PlaceShips(ctx, m.ID, "p2", good); !errors.Is(err, ErrPlacementClosed) {
		t.Fatalf("expected ErrPlacementClosed, got %v", err)
	}
}

func TestTurnsAlternate(t *testing.T) {
	e, rec, _ := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()
	m := startedMatch(t, e)

	if _, err := e.FireShot(ctx, m.ID, "p2", at(0, 0)); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	out, err := e.FireShot(ctx, m.ID, "p1", at(0, 0))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if !out.Result.Hit || out.Match.TurnHolder != "p2" {
		t.Fatalf("hit should pass the turn: %+v", out)
	}

	// a miss passes the turn back
	out, err = e.FireShot(ctx, m.ID, "p2", at(3, 3))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if out.Result.Hit || out.Result.ShipSunk != nil || out.Result.AllSunk {
		t.Fatalf("expected miss: %+v", out.Result)
	}
	if out.Match.TurnHolder != "p1" {
		t.Fatalf("turn holder = %s, want p1", out.Match.TurnHolder)
	}
	if len(rec.byEvent(salvodto.EventShotFired)) != 2 {
		t.Fatalf("expected 2 shot-fired events")
	}
}

func TestDuplicateShotKeepsTurn(t *testing.T) {
	e, _, _ := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()
	m := startedMatch(t, e)
	if _, err := e.FireShot(ctx, m.ID, "p1", at(2, 2)); err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if _, err := e.FireShot(ctx, m.ID, "p2", at(2, 2)); err != nil {
		t.Fatalf("FireShot: %v", err)
	}

	before, _ := e.GetMatch(ctx, m.ID)
	if _, err := e.FireShot(ctx, m.ID, "p1", at(2, 2)); !errors.Is(err, grid.ErrDuplicateShot) {
		t.Fatalf("expected ErrDuplicateShot, got %v", err)
	}
	if _, err := e.FireShot(ctx, m.ID, "p1", at(5, 0)); !errors.Is(err, grid.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	after, _ := e.GetMatch(ctx, m.ID)
	if after.TurnHolder != "p1" || len(after.Grid2.ShotsReceived) != len(before.Grid2.ShotsReceived) {
		t.Fatalf("rejected shot changed the match: %+v", after)
	}
}

func TestExtraTurnOnHit(t *testing.T) {
	rules := smallRules(2, 1)
	rules.TurnPolicy = ruleset.TurnExtraOnHit
	e, _, _ := newTestEngine(t, rules)
	ctx := context.Background()
	m := startedMatch(t, e)

	out, err := e.FireShot(ctx, m.ID, "p1", at(0, 0))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if out.Match.TurnHolder != "p1" {
		t.Fatalf("hit should keep the turn under extra_turn_on_hit")
	}
	out, err = e.FireShot(ctx, m.ID, "p1", at(3, 3))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if out.Match.TurnHolder != "p2" {
		t.Fatalf("miss should pass the turn")
	}
}

// A one-ship fleet of a single cell ends on the first hit.
func TestSingleShotWin(t *testing.T) {
	e, _, fin := newTestEngine(t, smallRules(1))
	ctx := context.Background()
	m, err := e.CreateMatch(ctx, "p1", "p2")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	one := ships([]grid.Coordinate{at(0, 0)})
	for _, p := range []string{"p1", "p2"} {
		if _, err := e.PlaceShips(ctx, m.ID, p, one); err != nil {
			t.Fatalf("PlaceShips %s: %v", p, err)
		}
	}
	out, err := e.FireShot(ctx, m.ID, "p1", at(0, 0))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if !out.Result.Hit || out.Result.ShipSunk == nil || !out.Result.AllSunk {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
	if out.Match.Status != StatusTerminated || out.Match.WinnerID != "p1" || out.Match.Reason != ReasonPlayerWon {
		t.Fatalf("match not won by p1: %+v", out.Match)
	}
	if !out.Match.Finalized {
		t.Fatalf("match not finalized")
	}
	if len(fin.calls) != 1 {
		t.Fatalf("terminator called %d times", len(fin.calls))
	}

	if _, err := e.FireShot(ctx, m.ID, "p2", at(0, 0)); !errors.Is(err, ErrMatchEnded) {
		t.Fatalf("expected ErrMatchEnded, got %v", err)
	}
	for _, p := range []string{"p1", "p2"} {
		if id, _ := e.ActiveMatchFor(ctx, p); id != "" {
			t.Fatalf("%s still indexed to %s", p, id)
		}
	}
}

func TestLeaveMatchForfeits(t *testing.T) {
	e, _, fin := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()
	m := startedMatch(t, e)

	if _, err := e.LeaveMatch(ctx, m.ID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	got, err := e.LeaveMatch(ctx, m.ID, "p1")
	if err != nil {
		t.Fatalf("LeaveMatch: %v", err)
	}
	if got.WinnerID != "p2" || got.Reason != ReasonPlayerLeftTheGame || !got.Terminated() {
		t.Fatalf("unexpected forfeit result: %+v", got)
	}
	if _, err := e.LeaveMatch(ctx, m.ID, "p2"); err != nil {
		t.Fatalf("second LeaveMatch: %v", err)
	}
	if len(fin.calls) != 1 {
		t.Fatalf("terminator called %d times", len(fin.calls))
	}
}

// flakyTerminator fails its first failN calls, then delegates.
type flakyTerminator struct {
	next  *finalizer
	failN int
	seen  int
}

func (f *flakyTerminator) Terminate(ctx context.Context, matchID, winnerID string, reason Reason) (bool, error) {
	f.seen++
	if f.seen <= f.failN {
		return false, errors.New("stats backend down")
	}
	return f.next.Terminate(ctx, matchID, winnerID, reason)
}

func wonUnfinalized(t *testing.T, e *Engine, fin *finalizer, failN int) (*Match, *flakyTerminator) {
	t.Helper()
	ctx := context.Background()
	flaky := &flakyTerminator{next: fin, failN: failN}
	e.AttachTerminator(flaky)
	m, err := e.CreateMatch(ctx, "p1", "p2")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	one := ships([]grid.Coordinate{at(0, 0)})
	for _, p := range []string{"p1", "p2"} {
		if _, err := e.PlaceShips(ctx, m.ID, p, one); err != nil {
			t.Fatalf("PlaceShips %s: %v", p, err)
		}
	}
	out, err := e.FireShot(ctx, m.ID, "p1", at(0, 0))
	if err != nil {
		t.Fatalf("FireShot: %v", err)
	}
	if !out.Match.Terminated() || out.Match.Finalized {
		t.Fatalf("expected terminated and unfinalized, got %+v", out.Match)
	}
	return out.Match, flaky
}

func TestFinalizationResumesAfterFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("leave", func(t *testing.T) {
		e, _, fin := newTestEngine(t, smallRules(1))
		m, _ := wonUnfinalized(t, e, fin, 1)
		got, err := e.LeaveMatch(ctx, m.ID, "p2")
		if err != nil {
			t.Fatalf("LeaveMatch: %v", err)
		}
		if !got.Finalized || got.WinnerID != "p1" || got.Reason != ReasonPlayerWon {
			t.Fatalf("leave did not finish the win: %+v", got)
		}
		if len(fin.calls) != 1 || fin.calls[0] != ReasonPlayerWon {
			t.Fatalf("unexpected terminations: %v", fin.calls)
		}
	})

	t.Run("shot after end", func(t *testing.T) {
		e, _, fin := newTestEngine(t, smallRules(1))
		m, _ := wonUnfinalized(t, e, fin, 1)
		if _, err := e.FireShot(ctx, m.ID, "p2", at(0, 0)); !errors.Is(err, ErrMatchEnded) {
			t.Fatalf("expected ErrMatchEnded, got %v", err)
		}
		got, err := e.store.Load(ctx, m.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !got.Finalized || got.WinnerID != "p1" {
			t.Fatalf("shot did not finish the win: %+v", got)
		}
	})

	t.Run("get", func(t *testing.T) {
		e, _, fin := newTestEngine(t, smallRules(1))
		m, flaky := wonUnfinalized(t, e, fin, 2)
		got, err := e.GetMatch(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMatch: %v", err)
		}
		if got.Finalized {
			t.Fatalf("second failure should leave the match pending")
		}
		got, err = e.GetMatch(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMatch: %v", err)
		}
		if !got.Finalized || got.Reason != ReasonPlayerWon {
			t.Fatalf("get did not finish the win: %+v", got)
		}
		if _, err := e.GetMatch(ctx, m.ID); err != nil {
			t.Fatalf("GetMatch: %v", err)
		}
		if flaky.seen != 3 || len(fin.calls) != 1 {
			t.Fatalf("terminator seen %d, finalized %d", flaky.seen, len(fin.calls))
		}
	})
}

// Two shots racing on the same turn: exactly one lands.
func TestConcurrentShotsSerialized(t *testing.T) {
	e, _, _ := newTestEngine(t, smallRules(2, 1))
	ctx := context.Background()
	m := startedMatch(t, e)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, notTurn int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(col int) {
			defer wg.Done()
			_, err := e.FireShot(ctx, m.ID, "p1", at(3, col%5))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotYourTurn):
				notTurn++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || notTurn != 7 {
		t.Fatalf("ok=%d notTurn=%d, want 1 and 7", ok, notTurn)
	}
	if n := e.locks.size(); n != 0 {
		t.Fatalf("keyed mutex leaked %d entries", n)
	}
}
