package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/xc-results/internal/api"
	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/models"
	"github.com/stitts-dev/xc-results/internal/providers"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/config"
	"github.com/stitts-dev/xc-results/pkg/database"
	"github.com/stitts-dev/xc-results/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.GetLogger().Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	log := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Local SQLite databases are created on first start; Postgres goes through cmd/migrate.
	if db.IsSQLite() {
		if err := db.AutoMigrate(models.All()...); err != nil {
			log.Fatalf("Failed to migrate SQLite schema: %v", err)
		}
	}

	// Connect to Redis
	ctx := context.Background()
	redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warnf("Redis unavailable, running without cache: %v", err)
	}
	cacheService := services.NewCacheService(redisClient)
	defer cacheService.Close()

	// Initialize import pipeline and results-site provider
	importService := services.NewImportService(importer.New(db.DB, cfg.ImportBatchSize), cfg.ImportDir, cacheService)
	resultsSite := providers.NewResultsSiteClient(providers.ResultsSiteConfig{
		BaseURL:          cfg.ResultsSiteURL,
		Timeout:          cfg.ExternalAPITimeout,
		RequestsPerSec:   cfg.ScrapeRateLimit,
		FailureThreshold: cfg.CircuitBreakerThreshold,
	}, log)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	jobEvents := services.NewJobEventHub(log)
	go jobEvents.Run(hubCtx)

	scrapeQueue := services.NewScrapeQueue(db.DB, resultsSite, importService, cfg.ScrapeMaxAttempts, cfg.ScrapeIntervalDuration(), log).
		WithEvents(jobEvents)
	if cfg.EnableBackgroundJobs {
		if err := scrapeQueue.Start(); err != nil {
			log.Errorf("Failed to start scrape queue: %v", err)
		}
		defer scrapeQueue.Stop()
	}

	if cfg.AdminJWTSecret == "" {
		log.Warn("ADMIN_JWT_SECRET is empty, admin endpoints are unauthenticated")
	}

	router := api.NewRouter(db, cacheService, cfg, importService, scrapeQueue, log)

	if cfg.IsDevelopment() {
		for _, route := range router.Routes() {
			log.Debugf("%s %s", route.Method, route.Path)
		}
	}

	// Setup server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
