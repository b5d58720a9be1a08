package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"botte/internal/config"
	"botte/internal/hub"
	"botte/internal/mailbox"
	"botte/internal/storage"
	kit "botte/internal/transport"
)

type chatSend struct {
	chat string
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []chatSend
	out  chan<- kit.Update
	menu []kit.BotCommand
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatSend{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) SetCommands(cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) inject(t *testing.T, chat, text string) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out == nil {
		t.Fatal("adapter not started")
	}
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: chat, Text: text}}
}

func (f *fakeAdapter) sends() []chatSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatSend(nil), f.sent...)
}

// hookServer records every POST body.
func hookServer(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	bodies := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func baseConfig(hookURL string) *config.Config {
	off := false
	quiet := false
	return &config.Config{
		Telegram: config.TelegramConfig{
			Token:       "test-token",
			AllowChatID: config.IDList{"42"},
			AdminChatID: config.IDList{"1"},
			Greeting:    &off,
		},
		Webhook: &config.WebhookConfig{HookURLs: []string{hookURL}},
		Logging: config.LoggingConfig{Level: "error", Console: &quiet},
	}
}

func startApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := build(cfg, opts...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func waitBody(t *testing.T, bodies <-chan string) string {
	t.Helper()
	select {
	case b := <-bodies:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never called")
		return ""
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesWebhookAndChat(t *testing.T) {
	srv, bodies := hookServer(t)
	ad := &fakeAdapter{}
	a := startApp(t, baseConfig(srv.URL), WithAdapter(ad))

	if err := a.Hub().Publish(context.Background(), "ping"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := waitBody(t, bodies); got != "ping" {
		t.Fatalf("webhook body = %q, want ping", got)
	}
	waitFor(t, "chat send", func() bool { return len(ad.sends()) == 1 })
	if got := ad.sends()[0]; got.chat != "42" || got.text != "ping" {
		t.Fatalf("chat send = %+v", got)
	}
	select {
	case b := <-bodies:
		t.Fatalf("unexpected second webhook call %q", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGreetingAndMenu(t *testing.T) {
	srv, _ := hookServer(t)
	cfg := baseConfig(srv.URL)
	cfg.Telegram.Greeting = nil
	ad := &fakeAdapter{}
	startApp(t, cfg, WithAdapter(ad))

	waitFor(t, "greeting", func() bool { return len(ad.sends()) == 1 })
	if got := ad.sends()[0]; got.chat != "42" || !strings.HasPrefix(got.text, "Hello botte! ") {
		t.Fatalf("greeting = %+v", got)
	}
	waitFor(t, "command menu", func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.menu) > 0
	})
}

func TestMockCommandIsBroadcast(t *testing.T) {
	srv, bodies := hookServer(t)
	ad := &fakeAdapter{}
	startApp(t, baseConfig(srv.URL), WithAdapter(ad))

	ad.inject(t, "42", "/mock BTC crossed 100k")
	if got := waitBody(t, bodies); got != "BTC crossed 100k" {
		t.Fatalf("webhook body = %q", got)
	}
}

func TestIngressPublishes(t *testing.T) {
	srv, bodies := hookServer(t)
	cfg := baseConfig(srv.URL)
	cfg.Listen = "127.0.0.1:0"
	a := startApp(t, cfg, WithAdapter(&fakeAdapter{}))

	waitFor(t, "ingress listener", func() bool { return a.ingress.Addr() != "" })
	resp, err := http.Post("http://"+a.ingress.Addr()+"/alert/tv", "text/plain", strings.NewReader("tv alert"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := waitBody(t, bodies); got != "tv alert" {
		t.Fatalf("webhook body = %q", got)
	}
}

func TestHubCloseIsFatal(t *testing.T) {
	srv, _ := hookServer(t)
	a := startApp(t, baseConfig(srv.URL), WithAdapter(&fakeAdapter{}))

	a.Hub().Close()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("app kept running after the hub closed")
	}
	if err := a.Err(); !errors.Is(err, hub.ErrClosed) {
		t.Fatalf("Err = %v, want hub.ErrClosed", err)
	}
}

func TestExitCommand(t *testing.T) {
	srv, _ := hookServer(t)
	codes := make(chan int, 1)
	ad := &fakeAdapter{}
	startApp(t, baseConfig(srv.URL), WithAdapter(ad), WithExit(func(code int) { codes <- code }))

	ad.inject(t, "1", "/exit")
	select {
	case code := <-codes:
		if code != 0 {
			t.Fatalf("exit code = %d", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("exit not called")
	}
}

type memMailbox struct {
	mu     sync.Mutex
	raw    map[uint32][]byte
	unseen map[uint32]bool
}

func (m *memMailbox) Login(user, password string) error { return nil }
func (m *memMailbox) Select(string) error               { return nil }
func (m *memMailbox) Logout() error                     { return nil }
func (m *memMailbox) Close() error                      { return nil }

func (m *memMailbox) SearchUnseen() ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint32
	for seq, u := range m.unseen {
		if u {
			out = append(out, seq)
		}
	}
	return out, nil
}

func (m *memMailbox) Fetch(seq uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw[seq], nil
}

func (m *memMailbox) MarkSeen(seqs []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seqs {
		m.unseen[s] = false
	}
	return nil
}

func TestMailRelayedAndStored(t *testing.T) {
	srv, bodies := hookServer(t)
	cfg := baseConfig(srv.URL)
	cfg.Mail = &config.MailConfig{
		IMAPService:  "imap.example.com",
		Email:        "bot@example.com",
		Passwd:       "x",
		FilterUsers:  []string{"alerts@example.com"},
		PollInterval: "20ms",
	}
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "botte")}

	raw := fmt.Sprintf("From: Alerts <alerts@example.com>\r\nTo: bot@example.com\r\nSubject: disk\r\nDate: %s\r\nContent-Type: text/plain\r\n\r\ndisk full\r\n",
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC1123Z))
	mb := &memMailbox{
		raw:    map[uint32][]byte{1: []byte(raw)},
		unseen: map[uint32]bool{1: true},
	}
	dial := func(ctx context.Context, addr string) (mailbox.Client, error) { return mb, nil }

	a := startApp(t, cfg, WithAdapter(&fakeAdapter{}), WithMailDialer(dial))
	if got := waitBody(t, bodies); got != "disk full" {
		t.Fatalf("webhook body = %q", got)
	}

	var entries []storage.EmailEntry
	waitFor(t, "stored email", func() bool {
		var err error
		entries, err = a.store.RecentEmails(context.Background(), 10)
		return err == nil && len(entries) == 1
	})
	if e := entries[0]; e.Sender != "alerts@example.com" || e.Subject != "disk" || e.TraceID == "" {
		t.Fatalf("stored entry = %+v", e)
	}
	if recs := a.poller.Records(); len(recs) != 1 {
		t.Fatalf("dedup records = %d", len(recs))
	}
}
