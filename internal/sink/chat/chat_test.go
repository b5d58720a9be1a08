package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"botte/internal/sink"
	kit "botte/internal/transport"
	logx "botte/pkg/logx"
)

type call struct {
	chatID string
	text   string
}

type fakeSender struct {
	mu       sync.Mutex
	calls    []call
	fail     map[string]bool
	inflight int
	overlap  bool
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.calls = append(f.calls, call{chatID: to.ChatID, text: text})
	if f.fail[to.ChatID] {
		return kit.MessageRef{}, errors.New("chat not found")
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.calls)}, nil
}

func newDispatcher(t *testing.T, sender kit.Sender, cfg Config, ids ...string) *Dispatcher {
	t.Helper()
	reg, err := sink.NewRegistry(sink.NewChatTargetSet(ids...), nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, reg, sender, logx.Nop(), nil)
}

func TestBroadcastSequentialInOrder(t *testing.T) {
	f := &fakeSender{}
	d := newDispatcher(t, f, Config{}, "1", "2", "3")

	if ok := d.Broadcast(context.Background(), "ping"); ok != 3 {
		t.Fatalf("ok = %d, want 3", ok)
	}
	if f.overlap {
		t.Fatal("sends overlapped; expected strictly sequential delivery")
	}
	for i, want := range []string{"1", "2", "3"} {
		if f.calls[i].chatID != want || f.calls[i].text != "ping" {
			t.Fatalf("call %d = %+v", i, f.calls[i])
		}
	}
}

func TestBroadcastContinuesAfterFailure(t *testing.T) {
	f := &fakeSender{fail: map[string]bool{"bad": true}}
	d := newDispatcher(t, f, Config{}, "bad", "good")

	if ok := d.Broadcast(context.Background(), "hi"); ok != 1 {
		t.Fatalf("ok = %d, want 1", ok)
	}
	if len(f.calls) != 2 || f.calls[1].chatID != "good" {
		t.Fatalf("calls = %+v", f.calls)
	}
}

func TestDeliverWithNoTargets(t *testing.T) {
	f := &fakeSender{}
	d := newDispatcher(t, f, Config{})
	d.Deliver(context.Background(), "x")
	if len(f.calls) != 0 {
		t.Fatalf("calls = %+v", f.calls)
	}
	if d.Name() != "chat" {
		t.Fatalf("Name() = %q", d.Name())
	}
}

func TestBroadcastStopsWhenPacingCancelled(t *testing.T) {
	f := &fakeSender{}
	d := newDispatcher(t, f, Config{RatePerSec: 1}, "1", "2", "3")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := d.Broadcast(ctx, "x"); ok != 1 {
		t.Fatalf("ok = %d, want 1 (limiter allows a single burst)", ok)
	}
}
