package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

// MetricsHandler exposes Prometheus text-format gauges.
type MetricsHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	now   func() time.Time
}

func NewMetricsHandler(db *gorm.DB, queue services.TaskQueue) *MetricsHandler {
	return &MetricsHandler{db: db, queue: queue, now: time.Now}
}

// Metrics returns Prometheus-compatible text format metrics.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	writeGauge(&b, "tracer_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "tracer_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "tracer_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))

	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "tracer_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "tracer_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "tracer_queue_async_enabled", "Whether reconciliation runs on the Redis queue (1=yes, 0=no)", queueAsync)

	db := h.db.WithContext(c.Request.Context())
	now := h.now()

	var users, projects, unpaid, paid, active, invites int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Project{}).Count(&projects)
	db.Model(&models.Transaction{}).Where("status = ?", models.TransactionUnpaid).Count(&unpaid)
	db.Model(&models.Transaction{}).Where("status = ?", models.TransactionPaid).Count(&paid)
	db.Model(&models.Transaction{}).
		Where("status = ? AND (end_at IS NULL OR end_at > ?)", models.TransactionPaid, now).
		Distinct("user_id").
		Count(&active)
	db.Model(&models.ProjectInvite{}).Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&invites)

	writeGauge(&b, "tracer_users_total", "Registered users", float64(users))
	writeGauge(&b, "tracer_projects_total", "Existing projects", float64(projects))
	writeGauge(&b, "tracer_orders_unpaid", "Orders waiting for a payment notification", float64(unpaid))
	writeGauge(&b, "tracer_orders_paid", "Reconciled orders", float64(paid))
	writeGauge(&b, "tracer_paid_users_active", "Users with an unexpired paid plan", float64(active))
	writeGauge(&b, "tracer_invites_24h", "Invite codes issued in the last 24 hours", float64(invites))

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
