package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams an invigilator's live view of an exam over SSE.
type MonitorHandler struct {
	roles      ExamRoles
	sessions   SessionRegistry
	alerts     Alerts
	subscriber pubsub.Subscriber
	log        zerolog.Logger
}

func NewMonitorHandler(
	roles ExamRoles,
	sessions SessionRegistry,
	alerts Alerts,
	subscriber pubsub.Subscriber,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		roles:      roles,
		sessions:   sessions,
		alerts:     alerts,
		subscriber: subscriber,
		log:        log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/invigilator/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID := middleware.GetExamID(c)
	reqCtx := c.Request.Context()

	exam, err := h.roles.Exam(reqCtx, examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	role, err := h.roles.RoleOf(reqCtx, caller, exam)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if role != model.RoleInvigilator {
		response.FromError(c, service.ErrInvigilatorOnly)
		return
	}

	sub, err := h.subscriber.Subscribe(reqCtx, examID, model.RoleInvigilator)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, caller, exam)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Invigilator attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Invigilator detached from live monitor SSE")
			return

		case ev, open := <-sub.Events():
			if !open {
				return
			}
			switch ev.Type {
			case pubsub.EventSessionsChanged:
				h.sendSessions(c, reqCtx, caller, examID)
			case pubsub.EventAlert, pubsub.EventAttemptSubmitted:
				c.SSEvent("message", gin.H{"type": ev.Type, "student_id": ev.StudentID, "data": ev.Payload})
				c.Writer.Flush()
			}

		case <-refreshTicker.C:
			h.sendSessions(c, reqCtx, caller, examID)

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the first SSE event: exam header, live sessions and
// the alert total.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, caller model.Caller, exam *model.Exam) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	sessions, err := h.sessions.ListActiveSessions(ctx, caller, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to list sessions for snapshot")
	}
	if sessions == nil {
		sessions = []model.ProctoringSession{}
	}

	var totalAlerts int64
	if _, total, err := h.alerts.List(ctx, caller, exam.ID, 1, 1); err == nil {
		totalAlerts = total
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam": gin.H{
				"id":       exam.ID.String(),
				"title":    exam.Title,
				"duration": exam.DurationMinutes,
				"status":   exam.Status,
			},
			"stats": gin.H{
				"total_live":   len(sessions),
				"total_alerts": totalAlerts,
			},
			"sessions": sessions,
		},
	})
	c.Writer.Flush()
}

// sendSessions re-reads the live sessions and sends them as one event.
func (h *MonitorHandler) sendSessions(c *gin.Context, parentCtx context.Context, caller model.Caller, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	sessions, err := h.sessions.ListActiveSessions(ctx, caller, examID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh sessions")
		return
	}
	if sessions == nil {
		sessions = []model.ProctoringSession{}
	}

	c.SSEvent("message", gin.H{"type": "sessions", "data": sessions})
	c.Writer.Flush()
}
