package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/cropcoef-api/internal/cache"
	"github.com/sjperalta/cropcoef-api/internal/config"
	"github.com/sjperalta/cropcoef-api/internal/database"
	"github.com/sjperalta/cropcoef-api/internal/handlers"
	"github.com/sjperalta/cropcoef-api/internal/jobs"
	"github.com/sjperalta/cropcoef-api/internal/observability"
	"github.com/sjperalta/cropcoef-api/internal/repository"
	"github.com/sjperalta/cropcoef-api/internal/services"
	"github.com/sjperalta/cropcoef-api/pkg/logger"
)

// @title Crop Coefficient Review API
// @version 1.0
// @description REST API for reviewing crop-coefficient proposals with a full audit trail
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Setup(cfg.Environment)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db, repository.WithLockTimeout(cfg.LockTimeout))

	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// The cache is optional: without Redis every read goes to the database
	var proposalCache *cache.ProposalCache
	if cfg.RedisURL != "" {
		proposalCache, err = cache.NewProposalCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn("Proposal cache disabled", "error", err)
			proposalCache = nil
		} else {
			logger.Info("Proposal cache enabled", "ttl", cfg.CacheTTL)
		}
	}

	svcs := services.NewServices(db, repos, worker, services.NewDecisionNotifier(cfg, nil))
	if proposalCache != nil {
		svcs.Review.SubscribeReadModel(proposalCache)
	}
	h := handlers.NewHandlers(svcs, proposalCache)
	router := setupRouter(h, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Queued notifications are sent before exit
	worker.Shutdown()
	logger.Info("Background worker stopped")

	if proposalCache != nil {
		_ = proposalCache.Close()
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	// Flush Sentry events before exit
	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}
