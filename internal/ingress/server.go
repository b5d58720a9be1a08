package ingress

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"botte/internal/hub"
	logx "botte/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Publisher is the hub side of ingress.
type Publisher interface {
	Publish(ctx context.Context, msg string) error
}

type Config struct {
	Addr string
	// APIKey, if set, must be sent as the api_key header or a Bearer token.
	APIKey string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// PublishTimeout bounds how long a request waits on a full hub. 0 waits for the client.
	PublishTimeout time.Duration
}

// Server accepts alert text over HTTP and publishes it to the hub.
type Server struct {
	cfg Config
	pub Publisher
	log logx.Logger

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, pub Publisher, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Server{cfg: cfg, pub: pub, log: log}
}

// Handler returns the router:
//
//	POST /alert     raw text body
//	POST /alert/tv  TradingView alert body
//	GET  /healthz
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet, http.MethodHead)

	alert := r.PathPrefix("/alert").Subrouter()
	alert.Use(s.withAuth)
	alert.HandleFunc("", s.handleAlert("alert")).Methods(http.MethodPost)
	alert.HandleFunc("/tv", s.handleAlert("tradingview")).Methods(http.MethodPost)
	return r
}

func (s *Server) handleAlert(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With(logx.String("source", source), logx.String("remote", r.RemoteAddr))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		msg := string(body)
		if strings.TrimSpace(msg) == "" {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		log.Info("alert received", logx.Int("bytes", len(body)))

		ctx := r.Context()
		if s.cfg.PublishTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.PublishTimeout)
			defer cancel()
		}
		if err := s.pub.Publish(ctx, msg); err != nil {
			log.Warn("alert publish failed", logx.Err(err))
			// A closed hub is fatal for the relay; a full one is a transient overload.
			status := http.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, hub.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, "relay unavailable", status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	key := strings.TrimSpace(s.cfg.APIKey)
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api_key"); got != "" && got == key {
			next.ServeHTTP(w, r)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == key {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run listens and serves until ctx ends. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	defer stop()

	s.log.Info("ingress listening", logx.String("addr", ln.Addr().String()), logx.Bool("api_key_set", s.cfg.APIKey != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ingress server exited unexpectedly")
	}
	return err
}
