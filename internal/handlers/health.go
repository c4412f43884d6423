package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/cache"
	"github.com/huangang/tracer/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database, queue and cache.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	cache cache.Cache
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, c cache.Cache) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, cache: c}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error: " + err.Error()
		}
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = 503
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	cacheMode := "memory"
	if _, ok := h.cache.(*cache.RedisCache); ok {
		cacheMode = "redis"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "tracer",
		"components": gin.H{
			"database":   dbStatus,
			"queue_mode": queueMode,
			"cache":      cacheMode,
		},
	})
}
