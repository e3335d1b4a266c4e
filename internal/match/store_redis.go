package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL        = 24 * time.Hour
	maxUpdateAttempts = 3
)

// Store persists match documents and the user -> active match index.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func matchKey(id string) string     { return "salvo:match:" + strings.TrimSpace(id) }
func idxUserKey(user string) string { return "salvo:index:user:" + strings.TrimSpace(user) }

// Create stores a new match and points both players' index at it. It fails with
// ErrPlayerBusy when either player already has an active match.
func (s *Store) Create(ctx context.Context, m *Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	idx1, idx2 := idxUserKey(m.Player1), idxUserKey(m.Player2)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for _, k := range []string{idx1, idx2} {
			n, err := tx.Exists(ctx, k).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrPlayerBusy
			}
		}
		var created *redis.BoolCmd
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			created = pipe.SetNX(ctx, matchKey(m.ID), raw, s.ttl)
			pipe.Set(ctx, idx1, m.ID, s.ttl)
			pipe.Set(ctx, idx2, m.ID, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		if !created.Val() {
			return fmt.Errorf("match id %s already exists", m.ID)
		}
		return nil
	}, idx1, idx2)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConcurrentUpdate
	}
	return err
}

func (s *Store) Load(ctx context.Context, id string) (*Match, error) {
	raw, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", id, err)
	}
	return &m, nil
}

// Update is an optimistic read-modify-write of one match document. fn may be
// called more than once and must only touch the match it is given; returning an
// error aborts without writing. When the match becomes TERMINATED the players'
// active index entries are removed in the same transaction.
func (s *Store) Update(ctx context.Context, id string, fn func(*Match) error) (*Match, error) {
	key := matchKey(id)
	var out *Match
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		var cur Match
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode match %s: %w", id, err)
		}
		wasOver := cur.Terminated()
		if err := fn(&cur); err != nil {
			return err
		}
		cur.checkInvariants()
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}

		var stale []string
		if !wasOver && cur.Terminated() {
			for _, p := range []string{cur.Player1, cur.Player2} {
				v, err := tx.Get(ctx, idxUserKey(p)).Result()
				if err != nil && err != redis.Nil {
					return err
				}
				if v == cur.ID {
					stale = append(stale, idxUserKey(p))
				}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, s.ttl)
			if len(stale) > 0 {
				pipe.Del(ctx, stale...)
			}
			if !cur.Terminated() {
				pipe.Expire(ctx, idxUserKey(cur.Player1), s.ttl)
				pipe.Expire(ctx, idxUserKey(cur.Player2), s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}
	return nil, ErrConcurrentUpdate
}

// ActiveMatchFor returns the id of the user's running match, or "".
func (s *Store) ActiveMatchFor(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil
	}
	id, err := s.rdb.Get(ctx, idxUserKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
