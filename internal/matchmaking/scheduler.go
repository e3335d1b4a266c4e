package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/queue"
	"github.com/park285/salvo/pkg/salvodto"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("pairing scheduler already running")
	ErrAlreadyStopped = errors.New("pairing scheduler already stopped")
)

const (
	DefaultInterval = 1200 * time.Millisecond
	tickTimeout     = 30 * time.Second
	requeueAttempts = 3
)

type Queue interface {
	DrainAll(ctx context.Context) ([]queue.Entry, error)
	Requeue(ctx context.Context, entries []queue.Entry) error
}

type Matches interface {
	CreateMatch(ctx context.Context, player1, player2 string) (*match.Match, error)
	ActiveMatchFor(ctx context.Context, userID string) (string, error)
}

// TickReport summarizes one pairing pass.
type TickReport struct {
	Drained  int
	Paired   int
	Requeued int
	Failed   int
	Matches  []string
}

// Scheduler pairs queued players on a fixed interval. Ticks never overlap.
type Scheduler struct {
	queue    Queue
	matches  Matches
	bc       match.Broadcaster
	interval time.Duration

	mu      sync.Mutex
	sched   gocron.Scheduler
	running bool

	// Tick may also be driven directly; passes are serialized
	tickMu sync.Mutex
}

func NewScheduler(q Queue, m Matches, bc match.Broadcaster, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{queue: q, matches: m, bc: bc, interval: interval}
}

// Start begins periodic pairing. ctx only carries values into ticks; cancelling
// it does not stop the scheduler, Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	base := context.WithoutCancel(ctx)
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			tctx, cancel := context.WithTimeout(base, tickTimeout)
			defer cancel()
			s.Tick(tctx)
		}),
		gocron.WithName("pairing"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule pairing job: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.running = true
	obslog.L().Info("pairing_scheduler_start", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the timer and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrAlreadyStopped
	}
	err := s.sched.Shutdown()
	s.sched = nil
	s.running = false
	obslog.L().Info("pairing_scheduler_stop")
	if err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick drains the queue and pairs entries in FIFO order. An odd entry out, and
// both entries of a pair that could not be created, go back with their original
// position. Errors are logged, never returned.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var rep TickReport
	log := obslog.L()
	entries, err := s.queue.DrainAll(ctx)
	if err != nil {
		log.Error("pairing_drain_error", zap.Error(err))
		return rep
	}
	rep.Drained = len(entries)
	if len(entries) == 0 {
		return rep
	}

	var back []queue.Entry
	for i := 0; i+1 < len(entries); i += 2 {
		a, b := entries[i], entries[i+1]
		m, err := s.matches.CreateMatch(ctx, a.UserID, b.UserID)
		if err != nil {
			rep.Failed++
			log.Warn("pairing_create_error",
				zap.String("player1", a.UserID),
				zap.String("player2", b.UserID),
				zap.Error(err),
			)
			back = append(back, s.stillFree(ctx, err, a, b)...)
			continue
		}
		rep.Paired++
		rep.Matches = append(rep.Matches, m.ID)
		s.emit(ctx, a.UserID, salvodto.MatchFound{MatchID: m.ID, OpponentID: b.UserID})
		s.emit(ctx, b.UserID, salvodto.MatchFound{MatchID: m.ID, OpponentID: a.UserID})
	}
	if len(entries)%2 == 1 {
		back = append(back, entries[len(entries)-1])
	}
	if len(back) > 0 {
		s.requeue(ctx, back)
		rep.Requeued = len(back)
	}

	log.Info("pairing_tick",
		zap.Int("drained", rep.Drained),
		zap.Int("paired", rep.Paired),
		zap.Int("requeued", rep.Requeued),
		zap.Int("failed", rep.Failed),
	)
	return rep
}

// stillFree picks which entries of a failed pair go back in line. A player who
// already has a match is dropped from the queue; on any other error both return.
func (s *Scheduler) stillFree(ctx context.Context, err error, pair ...queue.Entry) []queue.Entry {
	if !errors.Is(err, match.ErrPlayerBusy) {
		return pair
	}
	out := make([]queue.Entry, 0, len(pair))
	for _, e := range pair {
		id, lerr := s.matches.ActiveMatchFor(ctx, e.UserID)
		if lerr == nil && id != "" {
			obslog.L().Info("pairing_skip_busy", zap.String("user_id", e.UserID), zap.String("match_id", id))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Scheduler) requeue(ctx context.Context, entries []queue.Entry) {
	// entries must not be lost even when the tick context is done
	rctx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= requeueAttempts; attempt++ {
		if err = s.queue.Requeue(rctx, entries); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	obslog.L().Error("pairing_requeue_error", zap.Strings("user_ids", ids), zap.Error(err))
}

func (s *Scheduler) emit(ctx context.Context, userID string, ev salvodto.MatchFound) {
	if s.bc == nil {
		return
	}
	if err := s.bc.Emit(ctx, userID, salvodto.EventMatchFound, ev); err != nil {
		obslog.L().Warn("broadcast_error", zap.String("room", userID), zap.String("event", salvodto.EventMatchFound), zap.Error(err))
	}
}
