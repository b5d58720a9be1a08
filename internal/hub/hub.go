package hub

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "botte/pkg/logx"
)

// ErrClosed is returned by Publish once the hub no longer accepts messages,
// and by Run when the queue has been closed and drained.
var ErrClosed = errors.New("hub: closed")

const (
	DefaultCapacity = 32
	MaxCapacity     = 1024
)

// Dispatcher receives every message that passes through the hub.
// Deliver must isolate its own failures; the hub never sees them.
type Dispatcher interface {
	Name() string
	Deliver(ctx context.Context, msg string)
}

// Hub is a bounded queue with a single consumption loop that fans each
// message out to every dispatcher.
type Hub struct {
	log         logx.Logger
	dispatchers []Dispatcher

	// mu is held shared by publishers for the duration of a send and
	// exclusively by Close, so the queue is never closed under a sender.
	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}
	once   sync.Once

	published  atomic.Uint64
	dispatched atomic.Uint64
	running    atomic.Bool
}

// Stats is a point-in-time view of the hub for diagnostics.
type Stats struct {
	Published   uint64
	Dispatched  uint64
	QueueLen    int
	QueueCap    int
	Dispatchers []string
	Running     bool
	Closed      bool
}

// New creates a hub with the given queue capacity (clamped to [1, MaxCapacity];
// 0 selects DefaultCapacity).
func New(capacity int, log logx.Logger, dispatchers ...Dispatcher) *Hub {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 1 {
		capacity = 1
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ds := make([]Dispatcher, 0, len(dispatchers))
	for _, d := range dispatchers {
		if d != nil {
			ds = append(ds, d)
		}
	}
	return &Hub{
		log:         log,
		dispatchers: ds,
		queue:       make(chan string, capacity),
		done:        make(chan struct{}),
	}
}

// Publish enqueues msg, blocking while the queue is full.
// It returns ErrClosed after Close, or ctx.Err() if ctx ends first.
func (h *Hub) Publish(ctx context.Context, msg string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	select {
	case h.queue <- msg:
	default:
		h.log.Debug("queue full; publisher waiting", logx.Int("queue_cap", cap(h.queue)))
		select {
		case h.queue <- msg:
		case <-h.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.published.Add(1)
	return nil
}

// Close stops accepting messages. Messages already queued are still delivered by Run.
func (h *Hub) Close() {
	h.once.Do(func() {
		// Wake blocked publishers before taking the write lock.
		close(h.done)
		h.mu.Lock()
		h.closed = true
		close(h.queue)
		h.mu.Unlock()
	})
}

// Run is the consumption loop. Each message is handed to every dispatcher
// concurrently; the next message is dequeued only after all of them return.
// Run returns ErrClosed once the hub is closed and drained, or ctx.Err().
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("hub: already running")
	}
	defer h.running.Store(false)

	h.log.Info("hub started", logx.Int("capacity", cap(h.queue)), logx.Int("dispatchers", len(h.dispatchers)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-h.queue:
			if !ok {
				h.log.Error("hub queue closed and drained")
				return ErrClosed
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, msg string) {
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(len(h.dispatchers))
	for _, d := range h.dispatchers {
		go func(d Dispatcher) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.log.Error("dispatcher panicked", logx.String("dispatcher", d.Name()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			d.Deliver(ctx, msg)
		}(d)
	}
	wg.Wait()
	h.dispatched.Add(1)
	h.log.Debug("message dispatched", logx.Int("len", len(msg)), logx.Duration("took", time.Since(start)), logx.Int("queue_len", len(h.queue)))
}

func (h *Hub) Stats() Stats {
	names := make([]string, 0, len(h.dispatchers))
	for _, d := range h.dispatchers {
		names = append(names, d.Name())
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	return Stats{
		Published:   h.published.Load(),
		Dispatched:  h.dispatched.Load(),
		QueueLen:    len(h.queue),
		QueueCap:    cap(h.queue),
		Dispatchers: names,
		Running:     h.running.Load(),
		Closed:      closed,
	}
}
