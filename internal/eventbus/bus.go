package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the delivery path.
const (
	WebhookDelivered = "webhook.delivered"
	WebhookFailed    = "webhook.failed"
	ChatDelivered    = "chat.delivered"
	ChatFailed       = "chat.failed"
	MailAccepted     = "mail.accepted"
	MailDuplicate    = "mail.duplicate"
	MailFiltered     = "mail.filtered"
)

// Event is a small in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events.
type Event struct {
	Type   string
	Time   time.Time
	Target string
	Err    string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so unsubscribe cannot close a channel under us.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Counter tallies events by type. It is safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
	last   map[string]Event
}

func NewCounter() *Counter {
	return &Counter{counts: map[string]uint64{}, last: map[string]Event{}}
}

func (c *Counter) Observe(e Event) {
	c.mu.Lock()
	c.counts[e.Type]++
	c.last[e.Type] = e
	c.mu.Unlock()
}

// Counts returns a copy of the per-type totals.
func (c *Counter) Counts() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Last returns the most recent event of the given type.
func (c *Counter) Last(typ string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.last[typ]
	return e, ok
}
