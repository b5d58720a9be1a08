// Package app assembles the relay from its configuration and runs every subsystem
// under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"botte/internal/config"
	"botte/internal/console"
	"botte/internal/eventbus"
	"botte/internal/hub"
	"botte/internal/ingress"
	"botte/internal/mailbox"
	"botte/internal/observability/pprof"
	rtsup "botte/internal/runtime/supervisor"
	"botte/internal/sink/chat"
	"botte/internal/sink/webhook"
	"botte/internal/storage"
	kit "botte/internal/transport"
	telegram "botte/internal/transport/telegram/adapter"
	logx "botte/pkg/logx"
)

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	adapter kit.Adapter
	dialer  mailbox.Dialer
	exit    func(code int)
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// WithMailDialer replaces the IMAP dialer used by the mailbox poller.
func WithMailDialer(d mailbox.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithExit replaces the process exit used by the /exit console command.
func WithExit(fn func(code int)) Option {
	return func(o *options) { o.exit = fn }
}

type App struct {
	cfg  *config.Config
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	events *eventbus.Counter
	store  storage.Store

	adapter kit.Adapter
	hub     *hub.Hub
	chat    *chat.Dispatcher
	webhook *webhook.Dispatcher
	poller  *mailbox.Poller
	ingress *ingress.Server
	console *console.Console
	debug   *pprof.Service

	retention time.Duration
	updates   chan kit.Update
	exit      func(code int)
}

// New loads the config file and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	return a, nil
}

// build wires components from an already validated config.
func build(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	var chatLog logx.ChatSender
	if cs, ok := ad.(logx.ChatSender); ok {
		chatLog = cs
	}
	logSvc, log := logx.New(mapLogConfig(cfg), chatLog)
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	chatD := chat.New(chat.Config{
		RatePerSec:  cfg.Telegram.RatePerSec,
		SendTimeout: config.Duration(cfg.Telegram.SendTimeout, 0),
	}, reg, ad, log.With(logx.String("comp", "chat")), bus)

	var hookTimeout time.Duration
	if cfg.Webhook != nil {
		hookTimeout = config.Duration(cfg.Webhook.Timeout, 0)
	}
	hookD := webhook.New(webhook.Config{Timeout: hookTimeout}, reg, log.With(logx.String("comp", "webhook")), bus)

	h := hub.New(cfg.Hub.Capacity, log.With(logx.String("comp", "hub")), chatD, hookD)

	a := &App{
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		events:  eventbus.NewCounter(),
		store:   store,
		adapter: ad,
		hub:     h,
		chat:    chatD,
		webhook: hookD,
		updates: make(chan kit.Update, 256),
		exit:    o.exit,
	}

	if m := cfg.Mail; m != nil {
		popts := []mailbox.Option{mailbox.WithBus(bus), mailbox.WithDialer(o.dialer)}
		if store != nil {
			popts = append(popts, mailbox.WithRecorder(emailRecorder(store)))
		}
		a.poller = mailbox.New(mapMailConfig(m), h, log.With(logx.String("comp", "mailbox")), popts...)
		a.retention = config.Duration(m.DedupRetention, 0)
		if len(m.FilterUsers) == 0 {
			log.Warn("mail.filter_users is empty; no email will be relayed")
		}
	}

	if cfg.Listen != "" {
		a.ingress = ingress.New(mapIngressConfig(cfg), h, log.With(logx.String("comp", "ingress")))
	}

	if d := cfg.Debug; d != nil {
		a.debug = pprof.New(mapDebugConfig(d), pprof.Status{
			Hub:    h.Stats,
			Tasks:  a.tasks,
			Events: a.events.Counts,
		}, log.With(logx.String("comp", "pprof")))
	}

	deps := console.Deps{
		Sender:    ad,
		Publisher: h,
		Hub:       h.Stats,
		Tasks:     a.tasks,
		Events:    a.events.Counts,
		Exit:      a.exitProcess,
	}
	if a.poller != nil {
		deps.Mails = a.poller.Records
	}
	if store != nil {
		deps.Audit = store
	}
	a.console = console.New(mapConsoleConfig(cfg), deps, log.With(logx.String("comp", "console")))

	log.Info("relay configured",
		logx.Int("chats", reg.Chats().Len()),
		logx.Int("webhooks", len(reg.Hooks())),
		logx.Bool("mail", a.poller != nil),
		logx.Bool("ingress", a.ingress != nil),
	)
	return a, nil
}

// Hub exposes the broadcast hub, e.g. for in-process producers.
func (a *App) Hub() *hub.Hub { return a.hub }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) tasks() rtsup.Snapshot { return a.sup.Snapshot() }

// Start launches the hub, then the sinks, then the producers.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.sup.Go("hub", a.hub.Run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.count", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.events.Observe(e)
				a.log.Debug("event", logx.String("type", e.Type), logx.String("target", e.Target))
			}
		}
	})

	if err := a.adapter.Start(c, a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("chat adapter: %w", err)
	}
	if a.cfg.Telegram.GreetingEnabled() {
		a.sup.Go0("chat.greeting", func(c context.Context) {
			n := a.chat.Broadcast(c, "Hello botte! "+time.Now().Format(time.DateTime))
			a.log.Debug("greeting sent", logx.Int("chats", n))
		})
	}

	if a.poller != nil {
		a.sup.GoRestart("mailbox.poller", a.poller.Run, rtsup.WithImmediateRestart())
		if a.retention > 0 {
			a.sup.Go("mailbox.retention", func(c context.Context) error {
				return a.poller.RunRetention(c, a.retention)
			})
		}
	}
	if a.ingress != nil {
		a.sup.Go("ingress", a.ingress.Run)
	}

	a.sup.Go("console", func(c context.Context) error {
		return a.console.Run(c, a.updates)
	})
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("console.menu", func(context.Context) {
			if err := mu.SetCommands(a.console.Menu()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	if a.debug != nil {
		// Debug listener failures are not fatal.
		a.sup.Go0("pprof", func(c context.Context) {
			if err := a.debug.Run(c); err != nil {
				a.log.Warn("debug listener stopped", logx.Err(err))
			}
		})
	}
	if a.cfgm != nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// Stop cancels every subsystem. Queued messages are not drained.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("webhook", time.Second, a.webhook.Wait)
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, hub.ErrClosed) {
			// reported by Err(); not a stop failure
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// exitProcess backs the /exit command: abrupt termination, no drain.
func (a *App) exitProcess(code int) {
	a.log.Warn("process exit requested", logx.Int("code", code))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if a.exit != nil {
		a.exit(code)
		return
	}
	os.Exit(code)
}
