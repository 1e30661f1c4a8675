package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/hub"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/cuemby/tenantcast/pkg/registry"
	"github.com/cuemby/tenantcast/pkg/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxBodySize = 1 << 20

// Registry is the agent snapshot served on /agents
type Registry interface {
	Agents() []registry.Agent
	FetchedAt() time.Time
	SyncEnvelope() *events.Envelope
}

// Refresher starts an out-of-band registry sync
type Refresher interface {
	TriggerNow() bool
}

// Options configures the HTTP server
type Options struct {
	Address        string
	AllowedOrigins []string
	Connection     transport.Config

	Hub       *hub.Hub
	Registry  Registry
	Refresher Refresher
}

// Server serves the WebSocket endpoint and the HTTP API
type Server struct {
	opts   Options
	hub    *hub.Hub
	router chi.Router
	http   *http.Server
	accept *websocket.AcceptOptions
	logger zerolog.Logger

	// ctx outlives individual requests; cancelling it closes every socket
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// NewServer creates the server and its routes
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		hub:    opts.Hub,
		logger: log.WithComponent("api"),
		ctx:    ctx,
		cancel: cancel,
		accept: &websocket.AcceptOptions{
			OriginPatterns: opts.AllowedOrigins,
		},
	}
	if len(opts.AllowedOrigins) == 0 {
		s.accept.InsecureSkipVerify = true
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(requestMetrics)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/events", s.handleEventsSocket)
	r.Post("/events", s.handlePublish)

	r.Get("/agents", s.handleAgents)
	r.Post("/agents/sync", s.handleAgentsSync)
	r.Post("/refresh-agents", s.handleRefreshAgents)
	r.Get("/users", s.handleUsers)

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler returns the router for embedding in tests or other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until Shutdown
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis and blocks until Shutdown
func (s *Server) Serve(lis net.Listener) error {
	metrics.RegisterComponent(metrics.ComponentAPI, true, "listening")
	s.logger.Info().Str("address", lis.Addr().String()).Msg("HTTP server listening")
	if s.accept.InsecureSkipVerify {
		s.logger.Warn().Msg("No allowed origins configured, accepting WebSocket upgrades from any origin")
	}

	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then closes every live socket and
// waits for their close paths to run
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	err := s.http.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Timed out waiting for connections to close")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
