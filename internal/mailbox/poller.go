package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"botte/internal/eventbus"
	logx "botte/pkg/logx"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultMailbox  = "INBOX"
)

type Config struct {
	Service  string // host[:port]
	Email    string
	Password string
	Mailbox  string
	// FilterUsers is the sender allow-list. Mail from anyone else stays unread.
	FilterUsers []string
	Interval    time.Duration
}

// Publisher is where accepted email bodies go (the hub).
type Publisher interface {
	Publish(ctx context.Context, msg string) error
}

// Recorder persists accepted emails. Failures are logged, never fatal.
type Recorder interface {
	RecordEmail(ctx context.Context, r Record) error
}

type RecorderFunc func(ctx context.Context, r Record) error

func (f RecorderFunc) RecordEmail(ctx context.Context, r Record) error { return f(ctx, r) }

type Option func(*Poller)

func WithDialer(d Dialer) Option {
	return func(p *Poller) {
		if d != nil {
			p.dial = d
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(p *Poller) {
		if b != nil {
			p.bus = b
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Poller) { p.rec = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// Poller watches one mailbox and broadcasts new mail from allowed senders.
// Run drives a single session; callers restart it when it fails.
type Poller struct {
	cfg   Config
	allow map[string]struct{}
	pub   Publisher
	cache *Cache
	dial  Dialer
	rec   Recorder
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, pub Publisher, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if strings.TrimSpace(cfg.Mailbox) == "" {
		cfg.Mailbox = DefaultMailbox
	}
	p := &Poller{
		cfg:   cfg,
		allow: make(map[string]struct{}, len(cfg.FilterUsers)),
		pub:   pub,
		cache: NewCache(),
		dial:  DialTLS,
		bus:   eventbus.Nop(),
		log:   log,
		now:   time.Now,
	}
	for _, u := range cfg.FilterUsers {
		if u = NormalizeSender(u); u != "" {
			p.allow[u] = struct{}{}
		}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Cache exposes the dedup cache, e.g. for retention sweeps.
func (p *Poller) Cache() *Cache { return p.cache }

// Records returns every accepted email seen so far, oldest first.
func (p *Poller) Records() []Record { return p.cache.Records() }

func (p *Poller) Allowed(sender string) bool {
	_, ok := p.allow[NormalizeSender(sender)]
	return ok
}

// Run connects, authenticates, selects the mailbox and polls until ctx ends
// or any step fails. The session is logged out on return.
func (p *Poller) Run(ctx context.Context) error {
	c, err := p.dial(ctx, p.cfg.Service)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer func() {
		if stop() {
			_ = c.Logout()
		}
	}()

	if err := c.Login(p.cfg.Email, p.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := c.Select(p.cfg.Mailbox); err != nil {
		return fmt.Errorf("select %s: %w", p.cfg.Mailbox, err)
	}
	p.log.Info("mailbox session ready", logx.String("mailbox", p.cfg.Mailbox), logx.String("service", p.cfg.Service))

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := p.Poll(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		t.Reset(p.cfg.Interval)
	}
}

// Poll runs one cycle: search unseen, handle each message, then mark the
// handled ones seen in a single batch. Any error aborts the cycle.
func (p *Poller) Poll(ctx context.Context, c Client) error {
	seqs, err := c.SearchUnseen()
	if err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	p.log.Debug("unseen messages", logx.Int("count", len(seqs)))

	seen := make([]uint32, 0, len(seqs))
	for _, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.Fetch(seq)
		if err != nil {
			return err
		}
		markSeen, err := p.handle(ctx, seq, raw)
		if err != nil {
			return err
		}
		if markSeen {
			seen = append(seen, seq)
		}
	}
	if len(seen) == 0 {
		return nil
	}
	if err := c.MarkSeen(seen); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// handle reports whether seq should be flagged \Seen.
func (p *Poller) handle(ctx context.Context, seq uint32, raw []byte) (bool, error) {
	msg, err := Parse(raw)
	if err != nil {
		return false, fmt.Errorf("message %d: %w", seq, err)
	}
	log := p.log.With(logx.Uint64("seq", uint64(seq)), logx.String("sender", msg.Sender))

	if _, ok := p.allow[msg.Sender]; !ok {
		log.Debug("sender not allowed, leaving unread")
		p.bus.Publish(eventbus.Event{Type: eventbus.MailFiltered, Target: msg.Sender})
		return false, nil
	}

	now := p.now()
	sentAt := msg.Date
	if msg.DateErr != nil {
		log.Warn("unusable Date header, using receive time", logx.String("date", msg.DateHeader), logx.Err(msg.DateErr))
		sentAt = now
	}
	key := SeenKey{Unix: sentAt.Unix(), Sender: msg.Sender}
	rec := Record{
		TraceID: uuid.NewString(),
		Subject: msg.Subject,
		From:    msg.From,
		To:      msg.To,
		Date:    msg.DateHeader,
		Body:    msg.Body,
		SeenAt:  now,
	}
	if !p.cache.Remember(key, rec) {
		log.Info("duplicate email skipped", logx.Int64("sent_at", key.Unix))
		p.bus.Publish(eventbus.Event{Type: eventbus.MailDuplicate, Target: msg.Sender})
		return true, nil
	}

	if err := p.pub.Publish(ctx, msg.Body); err != nil {
		p.cache.Forget(key)
		return false, fmt.Errorf("broadcast email: %w", err)
	}
	log.Info("email broadcast", logx.String("trace_id", rec.TraceID), logx.String("subject", msg.Subject))
	p.bus.Publish(eventbus.Event{Type: eventbus.MailAccepted, Target: msg.Sender})

	if p.rec != nil {
		rec.Key = key
		if err := p.rec.RecordEmail(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("email audit failed", logx.String("trace_id", rec.TraceID), logx.Err(err))
		}
	}
	return true, nil
}
