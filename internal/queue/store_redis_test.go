package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeActive map[string]string

func (f fakeActive) ActiveMatchFor(_ context.Context, userID string) (string, error) {
	return f[userID], nil
}

func newTestStore(t *testing.T, active ActiveMatches) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, active)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	first, created, err := s.Enqueue(ctx, "u1")
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}
	again, created, err := s.Enqueue(ctx, "u1")
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if created {
		t.Fatalf("second enqueue should not create")
	}
	if again.Seq != first.Seq || !again.EnqueuedAt.Equal(first.EnqueuedAt) {
		t.Fatalf("second enqueue changed entry: %+v vs %+v", again, first)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestEnqueueRejectsActivePlayer(t *testing.T) {
	s := newTestStore(t, fakeActive{"busy": "m1"})
	if _, _, err := s.Enqueue(context.Background(), "busy"); !errors.Is(err, ErrAlreadyInMatch) {
		t.Fatalf("expected ErrAlreadyInMatch, got %v", err)
	}
	if _, _, err := s.Enqueue(context.Background(), "  "); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestDequeue(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, _, err := s.Enqueue(ctx, "u1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := s.Dequeue(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}
	ok, err = s.Dequeue(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("second Dequeue: ok=%v err=%v", ok, err)
	}
	if pos, _ := s.Position(ctx, "u1"); pos != 0 {
		t.Fatalf("Position after dequeue = %d", pos)
	}
}

func TestDrainAllIsFIFOAndEmpties(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	// ids chosen so lexical order differs from arrival order
	ids := []string{"u9", "u10", "u1", "a", "z"}
	for _, id := range ids {
		if _, _, err := s.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}
	if pos, _ := s.Position(ctx, "u1"); pos != 3 {
		t.Fatalf("Position(u1) = %d, want 3", pos)
	}

	got, err := s.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("drained %d, want %d", len(got), len(ids))
	}
	for i, e := range got {
		if e.UserID != ids[i] {
			t.Fatalf("position %d: got %s want %s", i, e.UserID, ids[i])
		}
		if e.EnqueuedAt.IsZero() {
			t.Fatalf("missing enqueue time for %s", e.UserID)
		}
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("queue not empty after drain: %d", n)
	}
}

func TestRequeueKeepsOriginalOrder(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	for _, id := range []string{"early", "mid"} {
		if _, _, err := s.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	drained, err := s.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}

	// someone joins while the drained entries are being processed
	if _, _, err := s.Enqueue(ctx, "late"); err != nil {
		t.Fatalf("Enqueue late: %v", err)
	}
	if err := s.Requeue(ctx, drained); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"early", "mid", "late"}
	if len(list) != len(want) {
		t.Fatalf("List = %+v", list)
	}
	for i := range want {
		if list[i].UserID != want[i] {
			t.Fatalf("order %d: got %s want %s", i, list[i].UserID, want[i])
		}
	}
	if !list[0].EnqueuedAt.Equal(drained[0].EnqueuedAt) {
		t.Fatalf("requeue lost enqueue time")
	}
}

func TestRequeueKeepsNewerEntry(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, _, err := s.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	drained, err := s.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}

	// "b" rejoins before the drained entries come back
	again, created, err := s.Enqueue(ctx, "b")
	if err != nil || !created {
		t.Fatalf("Enqueue b: created=%v err=%v", created, err)
	}
	if err := s.Requeue(ctx, drained); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	got, ok, err := s.Get(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("Get b: ok=%v err=%v", ok, err)
	}
	if got.Seq != again.Seq || !got.EnqueuedAt.Equal(again.EnqueuedAt) {
		t.Fatalf("requeue overwrote newer entry: got %+v want %+v", got, again)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "a" || list[1].UserID != "b" {
		t.Fatalf("List = %+v", list)
	}
}

// Concurrent enqueues during drains: every user ends up either drained exactly
// once or still queued, never both and never lost.
func TestDrainConcurrentWithEnqueue(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if _, _, err := s.Enqueue(ctx, fmt.Sprintf("u%d", i)); err != nil {
				t.Errorf("Enqueue: %v", err)
				return
			}
		}
	}()

	seen := map[string]int{}
	var mu sync.Mutex
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			got, err := s.DrainAll(ctx)
			if err != nil {
				t.Errorf("DrainAll: %v", err)
				return
			}
			mu.Lock()
			for _, e := range got {
				seen[e.UserID]++
			}
			mu.Unlock()
		}
	}()
	wg.Wait()

	rest, err := s.DrainAll(ctx)
	if err != nil {
		t.Fatalf("final DrainAll: %v", err)
	}
	for _, e := range rest {
		seen[e.UserID]++
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct users, want %d", len(seen), n)
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("user %s drained %d times", id, c)
		}
	}
}
