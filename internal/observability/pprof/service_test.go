package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"botte/internal/hub"
	logx "botte/pkg/logx"
)

func TestRelayStatus(t *testing.T) {
	s := New(Config{}, Status{
		Hub:    func() hub.Stats { return hub.Stats{Published: 3, QueueCap: 32} },
		Events: func() map[string]uint64 { return map[string]uint64{"chat.delivered": 3} },
	}, logx.Nop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/relay", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var v relayView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Hub == nil || v.Hub.Published != 3 || v.Tasks != nil || v.Events["chat.delivered"] != 3 {
		t.Fatalf("view = %+v", v)
	}
}

func TestTokenRequired(t *testing.T) {
	h := New(Config{Token: "s3"}, Status{}, logx.Nop()).Handler()
	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{name: "missing", path: "/debug/relay", want: http.StatusUnauthorized},
		{name: "wrong query", path: "/debug/relay?token=nope", want: http.StatusUnauthorized},
		{name: "query", path: "/debug/relay?token=s3", want: http.StatusOK},
		{name: "bearer", path: "/debug/relay", auth: "Bearer s3", want: http.StatusOK},
		{name: "pprof index", path: "/debug/pprof/", auth: "Bearer s3", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRunRefusesPublicBindWithoutToken(t *testing.T) {
	err := New(Config{Addr: ":6060"}, Status{}, logx.Nop()).Run(context.Background())
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Run = %v, want ErrInsecureBind", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := IsLoopbackAddr(addr); got != want {
			t.Errorf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
