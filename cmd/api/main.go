package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medinotes/internal/api/router"
	"github.com/wolfman30/medinotes/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medinotes/internal/config"
	httpmiddleware "github.com/wolfman30/medinotes/internal/http/middleware"
	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/internal/summary"
	"github.com/wolfman30/medinotes/internal/web"
	"github.com/wolfman30/medinotes/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to read .env: %v", err)
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medinotes API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	ctx := context.Background()
	handler, cleanup, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// WriteTimeout stays zero: summaries stream for as long as the model
	// writes and are bounded by LLM_STREAM_TIMEOUT instead.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		cleanup()
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics returns the /metrics handler together with the consultation
// metrics registered on a dedicated registry.
func setupMetrics() (http.Handler, *metrics.ConsultationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewConsultationMetrics(reg)
}

// buildHandler wires every dependency behind the router. The cleanup func
// closes whatever was opened, in reverse order.
func buildHandler(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	metricsHandler, consultationMetrics := setupMetrics()

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, llm.Close)

	db, err := bootstrap.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	if db == nil {
		logger.Warn("DATABASE_URL not set; consultation audit trail disabled")
	} else {
		closers = append(closers, func() { _ = db.Close() })
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	limiter, stopLimiter := bootstrap.BuildRateLimiter(cfg, redisClient, logger)
	closers = append(closers, stopLimiter)

	if !cfg.AuthConfigured() {
		logger.Warn("no CLERK_JWKS_URL or DEV_AUTH_SECRET configured; consultation requests will be rejected")
	}

	service := bootstrap.BuildSummaryService(cfg, llm, db, consultationMetrics, logger)
	r := router.New(&router.Config{
		Logger:              logger,
		ConsultationHandler: summary.NewHandler(service, logger),
		Auth: httpmiddleware.SessionAuthConfig{
			KeySet:            bootstrap.BuildKeySet(cfg),
			Issuer:            cfg.JWTIssuer,
			AuthorizedParties: cfg.AuthorizedParties,
			DevSecret:         cfg.DevAuthSecret,
		},
		RequiredPlan:       cfg.RequiredPlan,
		Limiter:            limiter,
		Metrics:            consultationMetrics,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		FrontendHandler:    web.Handler(cfg.StaticDir, cfg.SignInURL, logger),
	})
	return r, cleanup, nil
}
