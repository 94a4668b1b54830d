package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process health and worker queue depth.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`

	// Worker Queues
	QueueGrading int64 `json:"queue_grading"`
	QueueAlerts  int64 `json:"queue_alerts"`
}

// Health godoc
// GET /health
// Returns 200 when PostgreSQL and Redis answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rep := healthReport{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Postgres:   "ok",
		Redis:      "ok",
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
	}

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL ping failed")
		rep.Postgres = "down"
		rep.Status = "degraded"
	}

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	gradingCmd := pipe.LLen(ctx, config.WorkerKey.GradingQueue)
	alertsCmd := pipe.LLen(ctx, config.WorkerKey.PersistAlertsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		rep.Redis = "down"
		rep.Status = "degraded"
	} else {
		rep.QueueGrading, _ = gradingCmd.Result()
		rep.QueueAlerts, _ = alertsCmd.Result()
	}

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, rep)
}
