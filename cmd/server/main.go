package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexiqai/caption-sync/internal/archive"
	"github.com/lexiqai/caption-sync/internal/config"
	"github.com/lexiqai/caption-sync/internal/gateway"
	"github.com/lexiqai/caption-sync/internal/observability"
	"github.com/lexiqai/caption-sync/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("render_mode", cfg.RenderMode).
		Int("turn_capacity", cfg.TurnCapacity).
		Int("tick_interval_ms", cfg.TickIntervalMs).
		Bool("archive_enabled", cfg.ArchiveEnabled).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption Sync Service starting")

	// Transcript archive
	publisher := archive.New(archiveConfig(cfg), logger)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		if err := publisher.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("Kafka not reachable yet, archive writes will retry")
		}
	}()
	publisher.Start(ctx)

	captions := gateway.NewServer(cfg, publisher)

	// Create HTTP server
	mux := http.NewServeMux()

	// Register caption WebSocket handler
	mux.HandleFunc("/streams/captions", captions.HandleCaptionsWS)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"archive": publisher.HealthCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WebSocket connections are hijacked,
	// so these only bound the upgrade request.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", captionsEndpoint(cfg)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := captions.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Caption sessions did not finish in time")
	}

	// Sessions are gone, so every terminal caption has been submitted
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to flush transcript archive")
	}
	stop()

	logger.Info().Msg("Server exited gracefully")
}

func archiveConfig(cfg *config.Config) *archive.Config {
	return &archive.Config{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaTopic,
		Enabled:      cfg.ArchiveEnabled,
		WriteTimeout: time.Duration(cfg.KafkaWriteTimeout) * time.Second,
		Breaker: resilience.NewCircuitBreaker(
			"kafka",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
	}
}

func captionsEndpoint(cfg *config.Config) string {
	if cfg.PublicURL == "" {
		return fmt.Sprintf("ws://localhost:%s/streams/captions", cfg.Port)
	}
	base := strings.TrimSuffix(cfg.PublicURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/streams/captions"
}
