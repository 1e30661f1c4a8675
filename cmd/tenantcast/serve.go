package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/tenantcast/pkg/api"
	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/config"
	"github.com/cuemby/tenantcast/pkg/hub"
	"github.com/cuemby/tenantcast/pkg/ingress"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/cuemby/tenantcast/pkg/registry"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const collectInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event hub",
	Long: `Run the WebSocket event hub and its HTTP API.

Configuration is read from defaults, ./tenantcast.yaml (or --config),
TENANTCAST_* environment variables and flags, in increasing precedence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("address", ":8080", "HTTP listen address")
	serveCmd.Flags().String("jwt-secret", "", "HMAC secret for client tokens")
	serveCmd.Flags().String("registry-url", "", "Agent registry URL")
	serveCmd.Flags().String("registry-file", "", "Static agent registry YAML file, used when no URL is set")
	serveCmd.Flags().String("session-backend", "memory", "Collaborative session store: memory or bolt")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for the bolt session store")
	serveCmd.Flags().String("nats-url", "", "NATS server URL for event ingress (disabled when empty)")
	serveCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", false, "Log as JSON")
}

func openSessions(cfg *config.Config) (session.Store, error) {
	switch cfg.Sessions.Backend {
	case "bolt":
		return session.NewBoltStore(cfg.Sessions.DataDir, cfg.SessionOptions())
	default:
		return session.NewMemoryStore(cfg.SessionOptions()), nil
	}
}

func openRegistry(cfg *config.Config) (registry.Source, error) {
	source, err := registry.NewSource(cfg.Registry.URL, cfg.Registry.File)
	if err != nil {
		return nil, err
	}
	if hs, ok := source.(*registry.HTTPSource); ok {
		hs.Timeout = cfg.Registry.Timeout
		hs.RetryDelay = cfg.Registry.RetryDelay
	}
	return source, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log.Init(cfg.LogOptions())
	metrics.SetVersion(Version)
	logger := log.WithComponent("serve")

	if cfg.UsesDevSecret() {
		logger.Warn().Msg("Using the built-in development JWT secret; set auth.jwtSecret in production")
	}

	// Sessions
	store, err := openSessions(cfg)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentSessions, false, err.Error())
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close session store")
		}
	}()
	metrics.RegisterComponent(metrics.ComponentSessions, true, cfg.Sessions.Backend)

	// Hub
	directory := auth.NewMemoryDirectory(cfg.DirectoryUsers()...)
	if n := len(cfg.Auth.Users); n > 0 {
		logger.Info().Int("users", n).Msg("User directory seeded")
	}
	source, err := openRegistry(cfg)
	if err != nil && !errors.Is(err, registry.ErrNoSource) {
		return err
	}
	cache := registry.NewCache(source)

	h := hub.New(cfg.HubOptions(), hub.Deps{
		Authenticator: auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, directory),
		Directory:     directory,
		Sessions:      store,
		Registry:      cache,
	})
	h.Start()
	defer h.Stop()

	collector := metrics.NewCollector(h, collectInterval)
	collector.Start()
	defer collector.Stop()

	// Registry sync
	var refresher api.Refresher
	if source != nil {
		sched := registry.NewScheduler(cache, h, cfg.Registry.Interval)
		sched.Start()
		defer sched.Stop()
		refresher = sched
	} else {
		metrics.RegisterComponent(metrics.ComponentRegistry, true, "not configured")
		logger.Info().Msg("No agent registry configured")
	}

	// NATS ingress
	if cfg.NATS.URL != "" {
		nc, err := ingress.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer nc.Close()

		bridge := ingress.NewBridge(nc, cfg.NATS.Subject, cfg.NATS.Queue, h)
		if err := bridge.Start(); err != nil {
			return err
		}
		defer stopBridge(bridge, nc)
	}

	// HTTP
	server := api.NewServer(api.Options{
		Address:        cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Connection:     cfg.ConnectionOptions(),
		Hub:            h,
		Registry:       cache,
		Refresher:      refresher,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("address", cfg.Server.Address).
		Str("generation", h.Generation()).
		Str("version", Version).
		Msg("tenantcast is running")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	// Deferred calls stop NATS, the scheduler, the hub and the store in that order
	return nil
}

func stopBridge(bridge *ingress.Bridge, nc *nats.Conn) {
	if err := bridge.Stop(); err != nil {
		log.Logger.Warn().Err(err).Str("url", nc.ConnectedUrl()).Msg("Failed to drain NATS subscription")
	}
}
