package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimitd/internal/api"
	"ratelimitd/internal/config"
	"ratelimitd/internal/decision"
	"ratelimitd/internal/logger"
	"ratelimitd/internal/observability"
	"ratelimitd/internal/policy"
	"ratelimitd/internal/store"
	"ratelimitd/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the counter store
	counterStore, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err, "backend", cfg.Store.Backend)
		os.Exit(1)
	}
	defer counterStore.Close()

	// Wrap the store with instrumentation if metrics are enabled
	var activeStore store.Store = counterStore
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(counterStore)
		if err != nil {
			slog.Error("Failed to create instrumented store", "error", err)
			os.Exit(1)
		}
		activeStore = instrumented
	}

	// Load the policy rule set
	policies, err := policy.NewStore(cfg.Policies)
	if err != nil {
		slog.Error("Failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("Policies loaded", "count", len(cfg.Policies), "backend", cfg.Store.Backend)

	// Initialize the decision service
	decisionService := decision.NewService(policies, activeStore, cfg.Gateway.RequestTimeout)

	// SQL backends need an external purge loop; memory sweeps itself and
	// redis expires keys natively.
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	if purger, ok := activeStore.(store.ExpiryPurger); ok {
		go runCleanupLoop(cleanupCtx, purger, cfg.Store.CleanupInterval)
	}

	// Initialize HTTP handlers
	handlers := api.NewHandlers(decisionService, policies, activeStore, cfg.Gateway.FailureMode)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "failure_mode", cfg.Gateway.FailureMode)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// runCleanupLoop periodically purges expired counter rows. Purging is
// advisory; a failed pass is logged and retried at the next tick.
func runCleanupLoop(ctx context.Context, purger store.ExpiryPurger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			purged, err := purger.DeleteExpired(purgeCtx, time.Now())
			cancel()
			if err != nil {
				slog.Warn("Counter cleanup failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.Debug("Purged idle counters", "count", purged)
			}
		}
	}
}
