// Package pprof serves the optional debug listener: net/http/pprof profiles plus a JSON
// view of the relay (hub, supervised tasks, delivery events).
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"botte/internal/hub"
	rtsup "botte/internal/runtime/supervisor"
	logx "botte/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// ErrInsecureBind is returned by Run for a non-loopback address without a token.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires a token")

type Config struct {
	Addr  string
	Token string
}

// Status sources for /debug/relay. Nil fields are omitted.
type Status struct {
	Hub    func() hub.Stats
	Tasks  func() rtsup.Snapshot
	Events func() map[string]uint64
}

type relayView struct {
	Hub    *hub.Stats        `json:"hub,omitempty"`
	Tasks  *rtsup.Snapshot   `json:"tasks,omitempty"`
	Events map[string]uint64 `json:"events,omitempty"`
	At     time.Time         `json:"at"`
}

type Service struct {
	cfg    Config
	status Status
	log    logx.Logger

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, status Status, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Service{cfg: cfg, status: status, log: log}
}

// Handler returns the debug routes, all behind the token check when one is set.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withAuth)
	r.HandleFunc("/debug/relay", s.handleRelay).Methods(http.MethodGet)
	r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(hpprof.Index)
	return r
}

func (s *Service) handleRelay(w http.ResponseWriter, r *http.Request) {
	v := relayView{At: time.Now()}
	if s.status.Hub != nil {
		st := s.status.Hub()
		v.Hub = &st
	}
	if s.status.Tasks != nil {
		snap := s.status.Tasks()
		v.Tasks = &snap
	}
	if s.status.Events != nil {
		v.Events = s.status.Events()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug("relay status write failed", logx.Err(err))
	}
}

func (s *Service) withAuth(next http.Handler) http.Handler {
	tok := s.cfg.Token
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bearer header or ?token=
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Addr is the bound address once Run is listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run serves until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Token == "" && !IsLoopbackAddr(s.cfg.Addr) {
		s.log.Error("pprof refused to start", logx.String("addr", s.cfg.Addr))
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	})
	defer stop()

	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// IsLoopbackAddr reports whether host:port binds only to the local machine.
// An empty host means all interfaces.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
