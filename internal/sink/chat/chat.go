package chat

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"botte/internal/eventbus"
	"botte/internal/sink"
	kit "botte/internal/transport"
	logx "botte/pkg/logx"
)

type Config struct {
	// RatePerSec paces sends across identifiers. 0 disables pacing.
	RatePerSec int
	// SendTimeout bounds a single send. 0 relies on the transport's own timeout.
	SendTimeout time.Duration
}

// Dispatcher sends every message to each subscribed chat identifier in order,
// waiting for each send before starting the next.
type Dispatcher struct {
	targets sink.ChatTargetSet
	sender  kit.Sender
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
	bus     eventbus.Bus
}

func New(cfg Config, reg *sink.Registry, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	d := &Dispatcher{
		targets: reg.Chats(),
		sender:  sender,
		timeout: cfg.SendTimeout,
		log:     log,
		bus:     bus,
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return d
}

func (d *Dispatcher) Name() string { return string(sink.KindChat) }

func (d *Dispatcher) Deliver(ctx context.Context, msg string) {
	d.Broadcast(ctx, msg)
}

// Broadcast returns the number of identifiers the message reached.
// A failed identifier is logged and skipped; there is no retry.
func (d *Dispatcher) Broadcast(ctx context.Context, msg string) (ok int) {
	for _, id := range d.targets.IDs() {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.log.Warn("chat delivery aborted", logx.String("chat_id", id), logx.Err(err))
				return ok
			}
		}
		if err := d.send(ctx, id, msg); err != nil {
			d.log.Warn("chat delivery failed", logx.String("chat_id", id), logx.Err(err))
			d.bus.Publish(eventbus.Event{Type: eventbus.ChatFailed, Target: id, Err: err.Error()})
			continue
		}
		ok++
		d.log.Debug("chat delivered", logx.String("chat_id", id))
		d.bus.Publish(eventbus.Event{Type: eventbus.ChatDelivered, Target: id})
	}
	return ok
}

func (d *Dispatcher) send(ctx context.Context, id, msg string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	_, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: id}, msg, &kit.SendOptions{DisablePreview: true})
	return err
}
