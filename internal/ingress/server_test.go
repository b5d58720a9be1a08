package ingress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"botte/internal/hub"
	logx "botte/pkg/logx"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recorder) Publish(ctx context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAlertRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "tradingview", method: http.MethodPost, path: "/alert/tv", body: "BTC crossed 100k", want: http.StatusOK},
		{name: "plain", method: http.MethodPost, path: "/alert", body: "disk full", want: http.StatusOK},
		{name: "empty body", method: http.MethodPost, path: "/alert/tv", body: "", want: http.StatusBadRequest},
		{name: "blank body", method: http.MethodPost, path: "/alert", body: "  \n", want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/alert/tv", want: http.StatusMethodNotAllowed},
		{name: "unknown path", method: http.MethodPost, path: "/nope", body: "x", want: http.StatusNotFound},
		{name: "health", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recorder{}
			h := New(Config{}, pub, logx.Nop()).Handler()
			rec := do(t, h, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			got := pub.published()
			if tt.want == http.StatusOK && tt.method == http.MethodPost {
				if len(got) != 1 || got[0] != tt.body {
					t.Fatalf("published = %q, want [%q]", got, tt.body)
				}
			} else if len(got) != 0 {
				t.Fatalf("published = %q, want nothing", got)
			}
		})
	}
}

func TestAlertHubClosed(t *testing.T) {
	pub := &recorder{err: fmt.Errorf("publish: %w", hub.ErrClosed)}
	rec := do(t, New(Config{}, pub, logx.Nop()).Handler(), http.MethodPost, "/alert/tv", "x", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestAlertAPIKey(t *testing.T) {
	pub := &recorder{}
	h := New(Config{APIKey: "k"}, pub, logx.Nop()).Handler()

	if rec := do(t, h, http.MethodPost, "/alert/tv", "x", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/alert/tv", "x", map[string]string{"api_key": "k"}); rec.Code != http.StatusOK {
		t.Fatalf("api_key header: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/alert", "y", map[string]string{"Authorization": "Bearer k"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require a key: %d", rec.Code)
	}
	if got := pub.published(); len(got) != 2 {
		t.Fatalf("published = %q", got)
	}
}

func TestAlertThroughHub(t *testing.T) {
	got := make(chan string, 1)
	h := hub.New(4, logx.Nop(), dispatcherFunc(func(ctx context.Context, msg string) { got <- msg }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	srv := httptest.NewServer(New(Config{}, h, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/alert/tv", "text/plain", strings.NewReader("BTC up"))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	select {
	case msg := <-got:
		if msg != "BTC up" {
			t.Fatalf("delivered %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the dispatcher")
	}

	h.Close()
	resp, err = http.Post(srv.URL+"/alert/tv", "text/plain", strings.NewReader("late"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("after close: status = %d, want 500", resp.StatusCode)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, &recorder{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

type dispatcherFunc func(ctx context.Context, msg string)

func (f dispatcherFunc) Name() string                            { return "func" }
func (f dispatcherFunc) Deliver(ctx context.Context, msg string) { f(ctx, msg) }
