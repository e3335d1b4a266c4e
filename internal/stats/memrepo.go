package stats

import (
	"context"
	"sync"
	"time"
)

// memrepo keeps stats in process memory; used when DATABASE_URL is not set.
type memrepo struct {
	mu sync.RWMutex

	users   map[string]UserStats
	results map[string]MatchResult
}

func NewMemoryRepository() Repository {
	return &memrepo{
		users:   make(map[string]UserStats),
		results: make(map[string]MatchResult),
	}
}

func (m *memrepo) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memrepo) ApplyDelta(ctx context.Context, d Delta, initialElo int) (*UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[d.UserID]
	if !ok {
		s = Fresh(d.UserID, initialElo)
	}
	s = Apply(s, d)
	s.UpdatedAt = time.Now().UTC()
	m.users[d.UserID] = s
	return &s, nil
}

func (m *memrepo) InsertMatchResult(ctx context.Context, r MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[r.MatchID]; exists {
		return ErrDuplicateResult
	}
	m.results[r.MatchID] = r
	return nil
}

func (m *memrepo) GetMatchResult(ctx context.Context, matchID string) (*MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memrepo) Close() error { return nil }
