package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stitts-dev/xc-results/internal/services"
)

type HealthHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewHealthHandler(db *gorm.DB, cache *services.CacheService) *HealthHandler {
	return &HealthHandler{
		db:    db,
		cache: cache,
	}
}

// GetHealth reports database and cache reachability
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "cache": "disabled"}
	healthy := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unreachable"
		healthy = false
	}
	if h.cache.Available() {
		checks["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			// the cache is optional; report it without failing the check
			checks["cache"] = "unreachable"
		}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "xc-results",
		"checks":  checks,
		"time":    time.Now().UTC(),
	})
}
