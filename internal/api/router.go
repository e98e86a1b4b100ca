package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/api/handlers"
	"github.com/stitts-dev/xc-results/internal/api/middleware"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/config"
	"github.com/stitts-dev/xc-results/pkg/database"
)

// NewRouter builds the engine with the shared middleware stack and every route.
func NewRouter(db *database.DB, cache *services.CacheService, cfg *config.Config, imports *services.ImportService, queue *services.ScrapeQueue, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CorsOrigins))

	SetupRoutes(router, db, cache, cfg, imports, queue, logger)
	return router
}

// SetupRoutes configures all API routes on the given router
func SetupRoutes(router *gin.Engine, db *database.DB, cache *services.CacheService, cfg *config.Config, imports *services.ImportService, queue *services.ScrapeQueue, logger *logrus.Logger) {
	// Initialize services
	analysisService := services.NewAnalysisService(db.DB, cache, cfg.CacheTTL, logger)
	calibrationService := services.NewCalibrationService(db.DB, analysisService, cache)
	pageService := services.NewPageService(db.DB, cache, cfg.CacheTTL, cfg.ReferenceCourseID)
	qualityService := services.NewDataQualityService(db.DB)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db.DB, cache)
	pageHandler := handlers.NewPageHandler(pageService)
	adminHandler := handlers.NewAdminHandler(imports, analysisService, calibrationService, qualityService, queue)

	// Operational endpoints
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")

	// Public pages
	apiV1.GET("/schools", pageHandler.ListSchools)
	apiV1.GET("/schools/:id", pageHandler.GetSchool)
	apiV1.GET("/courses", pageHandler.ListCourses)
	apiV1.GET("/courses/:id", pageHandler.GetCourse)
	apiV1.GET("/courses/:id/performances", pageHandler.GetCoursePerformances)
	apiV1.GET("/meets", pageHandler.ListMeets)
	apiV1.GET("/meets/:id", pageHandler.GetMeet)
	apiV1.GET("/races/:id", pageHandler.GetRace)
	apiV1.GET("/races/:id/team-scores", pageHandler.GetRaceTeamScores)
	apiV1.GET("/athletes/:id", pageHandler.GetAthlete)

	// Admin endpoints
	admin := apiV1.Group("/admin")
	admin.Use(middleware.AdminRequired(cfg.AdminJWTSecret))
	{
		admin.POST("/import", adminHandler.Import)

		admin.GET("/course-anomalies/defaults", adminHandler.DefaultAnalysisOptions)
		admin.POST("/course-anomalies", adminHandler.AnalyzeCourses)
		admin.GET("/course-anomalies/export", adminHandler.ExportCourseAnomalies)

		admin.POST("/courses/recompute", adminHandler.RecomputeCourses)
		admin.POST("/courses/:id/difficulty", adminHandler.AdjustDifficulty)
		admin.GET("/courses/:id/adjustments", adminHandler.GetAdjustments)

		admin.GET("/data-quality", adminHandler.DataQuality)

		admin.POST("/scrape-jobs", adminHandler.EnqueueScrape)
		admin.GET("/scrape-jobs", adminHandler.ListScrapeJobs)
		admin.POST("/scrape-jobs/run", adminHandler.RunScrapeQueue)
		if hub := queue.Events(); hub != nil {
			admin.GET("/scrape-jobs/events", handlers.NewJobEventsHandler(hub, cfg.CorsOrigins).Stream)
		}
		admin.GET("/scrape-jobs/:id", adminHandler.GetScrapeJob)
		admin.POST("/scrape-jobs/:id/retry", adminHandler.RetryScrapeJob)
	}
}
