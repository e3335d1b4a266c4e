package queue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/park285/salvo/internal/obslog"
	"go.uber.org/zap"
)

// Store is the matchmaking queue. Entries live in a sorted set scored by a
// monotonically increasing sequence, with enqueue timestamps in a side hash.
type Store struct {
	rdb    *redis.Client
	active ActiveMatches
	now    func() time.Time
}

// NewStore builds a queue over rdb. active may be nil, in which case Enqueue
// does not check for running matches.
func NewStore(rdb *redis.Client, active ActiveMatches) *Store {
	return &Store{rdb: rdb, active: active, now: time.Now}
}

func (s *Store) keyQueue() string { return "salvo:queue" }
func (s *Store) keyAt() string    { return "salvo:queue:at" }
func (s *Store) keySeq() string   { return "salvo:queue:seq" }

// Enqueue adds userID to the queue. Enqueueing a user already waiting is a no-op
// that returns the existing entry with created=false.
func (s *Store) Enqueue(ctx context.Context, userID string) (Entry, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, false, ErrInvalidUser
	}
	if s.active != nil {
		id, err := s.active.ActiveMatchFor(ctx, userID)
		if err != nil {
			return Entry{}, false, err
		}
		if id != "" {
			return Entry{}, false, ErrAlreadyInMatch
		}
	}
	if e, ok, err := s.Get(ctx, userID); err != nil || ok {
		return e, false, err
	}

	seq, err := s.rdb.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return Entry{}, false, err
	}
	at := s.now().UTC()
	pipe := s.rdb.TxPipeline()
	added := pipe.ZAddNX(ctx, s.keyQueue(), redis.Z{Score: float64(seq), Member: userID})
	pipe.HSetNX(ctx, s.keyAt(), userID, strconv.FormatInt(at.UnixMicro(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, false, err
	}
	if added.Val() == 0 {
		// lost a race with a concurrent enqueue of the same user
		e, _, err := s.Get(ctx, userID)
		return e, false, err
	}
	obslog.L().Info("queue_enqueue", zap.String("user_id", userID), zap.Int64("seq", seq))
	return Entry{UserID: userID, Seq: seq, EnqueuedAt: at}, true, nil
}

// Dequeue removes userID. It reports whether the user was waiting; removing an
// absent user is not an error.
func (s *Store) Dequeue(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrInvalidUser
	}
	pipe := s.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, s.keyQueue(), userID)
	pipe.HDel(ctx, s.keyAt(), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if removed.Val() > 0 {
		obslog.L().Info("queue_dequeue", zap.String("user_id", userID))
	}
	return removed.Val() > 0, nil
}

// DrainAll atomically snapshots and empties the queue, oldest first. Enqueues
// that land after the snapshot go into the fresh queue and wait for the next drain.
func (s *Store) DrainAll(ctx context.Context) ([]Entry, error) {
	pipe := s.rdb.TxPipeline()
	members := pipe.ZRangeWithScores(ctx, s.keyQueue(), 0, -1)
	ats := pipe.HGetAll(ctx, s.keyAt())
	pipe.Del(ctx, s.keyQueue(), s.keyAt())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return toEntries(members.Val(), ats.Val()), nil
}

// Requeue puts entries back with their original order and timestamps. A user
// who enqueued again after the drain keeps the newer entry.
func (s *Store) Requeue(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, e := range entries {
		pipe.ZAddNX(ctx, s.keyQueue(), redis.Z{Score: float64(e.Seq), Member: e.UserID})
		pipe.HSetNX(ctx, s.keyAt(), e.UserID, strconv.FormatInt(e.EnqueuedAt.UnixMicro(), 10))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// List returns waiting entries oldest first without removing them.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	members, err := s.rdb.ZRangeWithScores(ctx, s.keyQueue(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ats, err := s.rdb.HGetAll(ctx, s.keyAt()).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(members, ats), nil
}

func (s *Store) Len(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.keyQueue()).Result()
}

// Get returns the waiting entry for userID, ok=false when the user is not queued.
func (s *Store) Get(ctx context.Context, userID string) (Entry, bool, error) {
	score, err := s.rdb.ZScore(ctx, s.keyQueue(), userID).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e := Entry{UserID: userID, Seq: int64(score)}
	raw, err := s.rdb.HGet(ctx, s.keyAt(), userID).Result()
	if err != nil && err != redis.Nil {
		return Entry{}, false, err
	}
	e.EnqueuedAt = parseMicros(raw)
	return e, true, nil
}

// Position is the 1-based place of userID in line, 0 when not queued.
func (s *Store) Position(ctx context.Context, userID string) (int, error) {
	rank, err := s.rdb.ZRank(ctx, s.keyQueue(), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

func toEntries(members []redis.Z, ats map[string]string) []Entry {
	out := make([]Entry, 0, len(members))
	for _, z := range members {
		id, _ := z.Member.(string)
		if id == "" {
			continue
		}
		out = append(out, Entry{UserID: id, Seq: int64(z.Score), EnqueuedAt: parseMicros(ats[id])})
	}
	return out
}

func parseMicros(raw string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}
