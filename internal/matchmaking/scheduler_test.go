package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/queue"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/pkg/salvodto"
)

type found struct {
	room string
	ev   salvodto.MatchFound
}

type recorder struct {
	mu    sync.Mutex
	found []found
}

func (r *recorder) Emit(_ context.Context, room, event string, payload any) error {
	if event != salvodto.EventMatchFound {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.found = append(r.found, found{room, payload.(salvodto.MatchFound)})
	return nil
}

type fixture struct {
	q      *queue.Store
	engine *match.Engine
	rec    *recorder
	sched  *Scheduler
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rec := &recorder{}
	engine := match.NewEngine(match.NewStore(rdb, 0), ruleset.Default(), rec)
	// no active-match guard so tests can queue busy players on purpose
	q := queue.NewStore(rdb, nil)
	return &fixture{q: q, engine: engine, rec: rec, sched: NewScheduler(q, engine, rec, interval)}
}

func (f *fixture) enqueue(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, _, err := f.q.Enqueue(context.Background(), id)
		require.NoError(t, err)
	}
}

func users(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("u%d", i+1)
	}
	return out
}

// Seven waiting users become three matches and one stays queued.
func TestTickPairsFIFOAndKeepsOddOneOut(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.enqueue(t, users(7)...)

	rep := f.sched.Tick(ctx)
	assert.Equal(t, 7, rep.Drained)
	assert.Equal(t, 3, rep.Paired)
	assert.Equal(t, 1, rep.Requeued)
	assert.Len(t, rep.Matches, 3)

	left, err := f.q.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "u7", left[0].UserID)

	for i, id := range rep.Matches {
		m, err := f.engine.GetMatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("u%d", 2*i+1), m.Player1)
		assert.Equal(t, fmt.Sprintf("u%d", 2*i+2), m.Player2)
		assert.Equal(t, m.Player1, m.TurnHolder)
		assert.Equal(t, match.StatusAwaitingPlacement, m.Status)
	}

	require.Len(t, f.rec.found, 6)
	assert.Equal(t, found{"u1", salvodto.MatchFound{MatchID: rep.Matches[0], OpponentID: "u2"}}, f.rec.found[0])
	assert.Equal(t, found{"u2", salvodto.MatchFound{MatchID: rep.Matches[0], OpponentID: "u1"}}, f.rec.found[1])
}

func TestTickEvenQueueEmpties(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.enqueue(t, users(4)...)

	rep := f.sched.Tick(ctx)
	assert.Equal(t, 2, rep.Paired)
	assert.Zero(t, rep.Requeued)
	n, err := f.q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// nothing waiting: a tick is a no-op
	assert.Equal(t, TickReport{}, f.sched.Tick(ctx))
}

func TestOddOneOutKeepsPriority(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.enqueue(t, "first")
	f.sched.Tick(ctx)
	f.enqueue(t, "second", "third")

	rep := f.sched.Tick(ctx)
	require.Equal(t, 1, rep.Paired)
	m, err := f.engine.GetMatch(ctx, rep.Matches[0])
	require.NoError(t, err)
	assert.Equal(t, "first", m.Player1)
	assert.Equal(t, "second", m.Player2)
}

func TestFailedPairRequeuesFreePlayers(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	busy, err := f.engine.CreateMatch(ctx, "busy", "other")
	require.NoError(t, err)
	f.enqueue(t, "busy", "a", "b", "c")

	rep := f.sched.Tick(ctx)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Paired)
	assert.Equal(t, 1, rep.Requeued)

	left, err := f.q.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].UserID)

	id, err := f.engine.ActiveMatchFor(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, busy.ID, id)
}

type failingMatches struct{}

func (failingMatches) CreateMatch(context.Context, string, string) (*match.Match, error) {
	return nil, errors.New("redis unavailable")
}

func (failingMatches) ActiveMatchFor(context.Context, string) (string, error) { return "", nil }

func TestCreateErrorLosesNobody(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.enqueue(t, users(5)...)
	s := NewScheduler(f.q, failingMatches{}, f.rec, 0)

	rep := s.Tick(ctx)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 5, rep.Requeued)
	left, err := f.q.List(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(left))
	for _, e := range left {
		got = append(got, e.UserID)
	}
	assert.Equal(t, users(5), got)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	assert.ErrorIs(t, f.sched.Stop(), ErrAlreadyStopped)
	require.NoError(t, f.sched.Start(ctx))
	assert.ErrorIs(t, f.sched.Start(ctx), ErrAlreadyRunning)
	assert.True(t, f.sched.Running())

	f.enqueue(t, "x", "y")
	require.Eventually(t, func() bool {
		id, _ := f.engine.ActiveMatchFor(ctx, "x")
		return id != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sched.Stop())
	assert.False(t, f.sched.Running())
	assert.ErrorIs(t, f.sched.Stop(), ErrAlreadyStopped)

	// a stopped scheduler can be started again
	require.NoError(t, f.sched.Start(ctx))
	require.NoError(t, f.sched.Stop())
}
