// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts startSession calls, labelled by whether an older
	// session was superseded.
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_sessions_started_total",
			Help: "Total number of proctoring sessions started",
		},
		[]string{"superseded"},
	)

	SessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_sessions_ended_total",
			Help: "Total number of proctoring sessions ended by their owner",
		},
	)

	// SignalsRelayed counts relayed negotiation messages by type.
	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_signals_relayed_total",
			Help: "Total number of signals appended to the relay",
		},
		[]string{"type"},
	)

	// SubmissionsTotal counts accepted submissions by trigger.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_submissions_total",
			Help: "Total number of accepted exam submissions",
		},
		[]string{"trigger"},
	)

	// GradingRuns counts grading attempts by outcome (success, failure, requeued).
	GradingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_runs_total",
			Help: "Total number of grading runs",
		},
		[]string{"outcome"},
	)

	AlertsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheating_alerts_ingested_total",
			Help: "Total number of classified alerts persisted",
		},
		[]string{"severity"},
	)

	// FeedSubscribers tracks open change-feed connections.
	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_feed_subscribers_current",
			Help: "Current number of open change-feed connections",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Middleware records request latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
