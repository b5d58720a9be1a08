package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"botte/internal/eventbus"
	"botte/internal/sink"
	logx "botte/pkg/logx"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	// Timeout bounds each POST. 0 selects the default.
	Timeout time.Duration
	Client  *http.Client
}

// Dispatcher posts every message to each configured webhook target, one goroutine per target.
// Outcomes are logged and published on the bus; nothing is returned to the hub.
type Dispatcher struct {
	hooks   []sink.HookTarget
	client  *http.Client
	timeout time.Duration
	log     logx.Logger
	bus     eventbus.Bus

	inflight sync.WaitGroup
}

func New(cfg Config, reg *sink.Registry, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		hooks:   reg.Hooks(),
		client:  client,
		timeout: timeout,
		log:     log,
		bus:     bus,
	}
}

func (d *Dispatcher) Name() string { return string(sink.KindWebhook) }

// Deliver formats the message per target and fires one POST per target.
// It returns as soon as the requests are started.
func (d *Dispatcher) Deliver(ctx context.Context, msg string) {
	if len(d.hooks) == 0 {
		return
	}
	// Requests outlive the caller; keep ctx values, drop its cancellation.
	base := context.WithoutCancel(ctx)
	for _, h := range d.hooks {
		p, err := Format(h, msg)
		if err != nil {
			d.fail(h.URL(), err)
			continue
		}
		d.log.Debug("webhook send", logx.String("url", h.URL()), logx.Int("bytes", len(p.Body)))
		d.inflight.Add(1)
		go func(url string, p Payload) {
			defer d.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("webhook send panicked", logx.String("url", url), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			if err := d.post(base, url, p); err != nil {
				d.fail(url, err)
				return
			}
			d.log.Info("webhook delivered", logx.String("url", url))
			d.bus.Publish(eventbus.Event{Type: eventbus.WebhookDelivered, Target: url})
		}(h.URL(), p)
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, p Payload) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(p.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", p.ContentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func (d *Dispatcher) fail(url string, err error) {
	d.log.Warn("webhook delivery failed", logx.String("url", url), logx.Err(err))
	d.bus.Publish(eventbus.Event{Type: eventbus.WebhookFailed, Target: url, Err: err.Error()})
}

// Wait blocks until every in-flight POST has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
