package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ramm/core"
	"ramm/observability"
	"ramm/services/rammd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	// OriginPatterns are accepted websocket origins; empty means same origin.
	OriginPatterns []string
	TLS            TLSConfig
}

// TLSConfig describes TLS settings for the listener.
type TLSConfig struct {
	Disabled bool
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Server exposes the executor over HTTP.
type Server struct {
	cfg     Config
	exec    *core.Executor
	store   *storage.Storage
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger

	// idempotent serialises keyed trades so a key is checked and bound
	// atomically.
	idempotent sync.Mutex
}

// New constructs a new HTTP server. limiter may be nil.
func New(cfg Config, exec *core.Executor, store *storage.Storage, hub *Hub, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, exec: exec, store: store, hub: hub, auth: auth, limiter: limiter, logger: logger}, nil
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/assets", s.handleListAssets)
		r.Get("/accounts/{addr}", s.handleAccount)
		r.Route("/assets/{mint}", func(r chi.Router) {
			r.Get("/", s.handleAsset)
			r.Get("/receipts", s.handleReceipts)
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware("quote"))
				r.Post("/quote/issue", s.handleQuote(false))
				r.Post("/quote/redeem", s.handleQuote(true))
				r.Post("/ratchet", s.handleRatchet)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware("trade"))
				r.Use(s.auth.Middleware(ScopeTrade))
				r.Post("/issue", s.handleTrade(opIssue))
				r.Post("/redeem", s.handleTrade(opRedeem))
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.auth.Middleware(ScopeAdmin))
		r.Post("/assets", s.handleInitAsset)
		r.Post("/accounts/{addr}/credit", s.handleCredit)
		r.Get("/assets/{mint}/export", s.handleExport)
		r.Get("/pause", s.handleGetPause)
		r.Put("/pause", s.handleSetPause)
	})

	return otelhttp.NewHandler(r, "rammd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "rammd " + r.Method + " " + r.URL.Path
		}))
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		TLSConfig:         s.cfg.TLS.Config,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("rammd: http server listening", slog.String("address", s.cfg.ListenAddress), slog.Bool("tls", !s.cfg.TLS.Disabled))
	var err error
	if s.cfg.TLS.Disabled {
		err = srv.ListenAndServe()
	} else {
		err = srv.ListenAndServeTLS(strings.TrimSpace(s.cfg.TLS.CertFile), strings.TrimSpace(s.cfg.TLS.KeyFile))
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records per-route request metrics once the route is resolved.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		observability.ModuleMetrics().Observe("rammd", r.Method+" "+route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
