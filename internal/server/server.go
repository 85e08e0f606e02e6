package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"whip/internal/config"
	"whip/internal/metrics"
	"whip/internal/state"
	"whip/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	WS                config.WSConfig

	// Metrics is optional; nil disables /metrics.
	Metrics *metrics.Metrics
	// Audit is optional; nil disables NDJSON telemetry.
	Audit  *telemetry.Logger
	Logger *slog.Logger

	Now func() time.Time
}

// OptionsFromConfig maps the loaded runtime config onto server options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Addr:              cfg.Addr(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		WS:                cfg.WS,
	}
}

type Server struct {
	opts     Options
	log      *slog.Logger
	registry *state.Registry
	upgrader websocket.Upgrader
	handler  http.Handler

	mu           sync.Mutex
	live         map[*wsConn]struct{}
	shuttingDown bool
	conns        sync.WaitGroup
}

func New(opts Options, registry *state.Registry) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.WS.WriteTimeout <= 0 {
		opts.WS.WriteTimeout = 10 * time.Second
	}
	if opts.WS.MaxMessageBytes <= 0 {
		opts.WS.MaxMessageBytes = 64 * 1024
	}
	if registry == nil {
		registry = state.NewRegistry()
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Listeners are headless clients, not browsers; the bearer token is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		live: map[*wsConn]struct{}{},
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/whip", s.handleWhip)
	r.Get("/ws", s.handleWS)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Registry() *state.Registry { return s.registry }

// Run listens on opts.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.Addr == "" {
		return fmt.Errorf("server addr is empty")
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully:
// HTTP handlers drain and every listener socket is closed with 1001.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()
	s.log.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)

	s.closeAll(websocket.CloseGoingAway, "server shutting down")
	waitCh := make(chan struct{})
	go func() { s.conns.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-shutdownCtx.Done():
		s.log.Warn("listener sockets did not exit before shutdown timeout")
	}

	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// track records c as live. It reports false once shutdown has begun; the
// caller must then close c itself.
func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.live[c] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.conns.Done()
}

// closeAll stops accepting new listeners and closes every live one.
func (s *Server) closeAll(code int, reason string) {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]*wsConn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.registry.Drain()
	s.opts.Metrics.SetActive(0)

	for _, c := range conns {
		_ = c.Close(code, reason)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start),
		)
	})
}
