package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: WebhookDelivered, Target: "http://x"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != WebhookDelivered || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: ChatDelivered})
	b.Publish(Event{Type: ChatFailed}) // dropped, must not block
	if e := <-ch; e.Type != ChatDelivered {
		t.Fatalf("got %s", e.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: MailAccepted})
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.Observe(Event{Type: WebhookFailed, Target: "a"})
	c.Observe(Event{Type: WebhookFailed, Target: "b"})
	if got := c.Counts()[WebhookFailed]; got != 2 {
		t.Fatalf("count = %d", got)
	}
	if e, ok := c.Last(WebhookFailed); !ok || e.Target != "b" {
		t.Fatalf("last = %+v, %v", e, ok)
	}
}
