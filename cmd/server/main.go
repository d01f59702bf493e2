package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/api"
	"github.com/bcnelson/stack-traffic-manager/internal/auth"
	"github.com/bcnelson/stack-traffic-manager/internal/backend"
	"github.com/bcnelson/stack-traffic-manager/internal/config"
	"github.com/bcnelson/stack-traffic-manager/internal/logging"
	"github.com/bcnelson/stack-traffic-manager/internal/metrics"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/bcnelson/stack-traffic-manager/internal/storage/memory"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	// API keys live in the database; without one they are kept in memory
	// and only the bootstrap key or OIDC tokens survive a restart.
	keys := backends.Storage
	if keys == nil {
		log.Info("no database configured, API keys are kept in memory")
		keys = memory.New()
	}

	opts, err := backend.ServiceOptions(&cfg.Traffic)
	if err != nil {
		return err
	}
	recorder := metrics.NewPrometheus(prometheus.DefaultRegisterer, "")
	traffic := service.NewTrafficService(backends.Directory, backends.Records, opts, log, recorder)

	routerOpts := api.RouterOptions{
		BootstrapKey: cfg.Auth.BootstrapAPIKey,
		Metrics:      promhttp.Handler(),
	}
	if inv := backends.Inventory(cfg); inv != nil {
		routerOpts.Inventory = inv
	}
	if cfg.OIDC.Enabled {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.GetAllowedDomains())
		if err != nil {
			return err
		}
		routerOpts.Verifier = verifier
		log.Info("OIDC bearer tokens enabled", "issuer", cfg.OIDC.IssuerURL)
	}
	if cfg.Auth.BootstrapAPIKey == "" && !cfg.OIDC.Enabled {
		log.Info("no BOOTSTRAP_API_KEY or OIDC configured, the API is only reachable with existing keys")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(keys, traffic, routerOpts, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // route53 batches may wait for INSYNC
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting traffic server",
			"addr", cfg.Server.Addr(),
			"records", cfg.Backend.Records,
			"directory", cfg.Backend.Directory,
			"strategy", opts.Strategy)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	return shutdown(server, log)
}

func shutdown(server *http.Server, log logr.Logger) error {
	log.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
