package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/park285/salvo/internal/obslog"
	"go.uber.org/zap"
)

// Dispatcher makes any Broadcaster fire-and-forget: Emit enqueues and returns
// at once, a single worker delivers in order. A full queue drops the event.
type Dispatcher struct {
	next Broadcaster
	ch   chan Envelope

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
	mu        sync.RWMutex

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewDispatcher(next Broadcaster, size int) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	d := &Dispatcher{
		next:   next,
		ch:     make(chan Envelope, size),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit never blocks and never returns a delivery error.
func (d *Dispatcher) Emit(_ context.Context, room, event string, payload any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.closed:
		d.drop(room, event, "closed")
		return nil
	default:
	}
	select {
	case d.ch <- Envelope{Room: room, Event: event, Payload: payload}:
	default:
		d.drop(room, event, "queue_full")
	}
	return nil
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
func (d *Dispatcher) Failed() int64  { return d.failed.Load() }

// Close stops accepting events and waits until queued ones were delivered or
// ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		close(d.closed)
		close(d.ch)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for env := range d.ch {
		if err := d.next.Emit(context.Background(), env.Room, env.Event, env.Payload); err != nil {
			d.failed.Add(1)
			obslog.L().Warn("broadcast_error",
				zap.String("room", env.Room),
				zap.String("event", env.Event),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) drop(room, event, why string) {
	d.dropped.Add(1)
	obslog.L().Warn("broadcast_dropped", zap.String("room", room), zap.String("event", event), zap.String("why", why))
}
