package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
	"github.com/stemsi/exstem-proctor/internal/response"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ExamRoles resolves which role a caller plays in an exam.
type ExamRoles interface {
	Exam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	RoleOf(ctx context.Context, caller model.Caller, exam *model.Exam) (model.Role, error)
}

// WSHandler serves the proctoring change feed and the attempt stream.
type WSHandler struct {
	roles      ExamRoles
	subscriber pubsub.Subscriber
	attempts   Attempts
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(roles ExamRoles, subscriber pubsub.Subscriber, attempts Attempts, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		roles:      roles,
		subscriber: subscriber,
		attempts:   attempts,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// roleIn resolves the caller's role before the upgrade so failures still get
// the JSON envelope.
func (h *WSHandler) roleIn(ctx context.Context, caller model.Caller, examID uuid.UUID) (model.Role, error) {
	exam, err := h.roles.Exam(ctx, examID)
	if err != nil {
		return "", err
	}
	return h.roles.RoleOf(ctx, caller, exam)
}

// ProctorFeed godoc
// WS /ws/v1/proctoring/exams/:exam_id/feed
// Pushes change notifications addressed to the caller. Receivers re-read
// sessions and signals over HTTP; the feed only says when.
func (h *WSHandler) ProctorFeed(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID := middleware.GetExamID(c)

	role, err := h.roleIn(c.Request.Context(), caller, examID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := h.subscriber.Subscribe(ctx, examID, role)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Feed subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxFeedMessageSize)

	metrics.FeedSubscribers.Inc()
	defer metrics.FeedSubscribers.Dec()

	feedLog := h.log.With().
		Str("user_id", caller.UserID).
		Str("role", string(role)).
		Str("exam_id", examID.String()).
		Logger()
	feedLog.Info().Msg("Feed connected")

	// The client never sends data; reading only services pongs and notices
	// the close.
	go func() {
		defer cancel()
		ws.KeepAlive(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					feedLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			feedLog.Debug().Msg("Feed closed")
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if !ev.For(caller.UserID) {
				continue
			}
			if err := ws.WriteTyped(conn, ws.ChangeMessage{Event: ws.EventChange, Change: ev}); err != nil {
				feedLog.Debug().Err(err).Msg("Feed write failed")
				return
			}
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for autosave flushes and submission. The current
// attempt state is sent first so the client can restore its timer.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID := middleware.GetExamID(c)
	ctx := c.Request.Context()

	state, err := h.attempts.State(ctx, caller, examID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(ws.MaxStreamMessageSize)

	wsLog := h.log.With().
		Str("student_id", caller.UserID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	if err := ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: state}); err != nil {
		return
	}

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed message")
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, caller, examID, raw)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, caller, examID, raw)
		case ws.ActionState:
			h.handleState(ctx, conn, caller, examID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// handleAutosave merges one autosave flush into the stored sheet.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, caller model.Caller, examID uuid.UUID, raw json.RawMessage) {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "changed_answers is malformed")
		return
	}
	if err := req.ChangedAnswers.CheckPatch(); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidAnswer), err.Error())
		return
	}

	sheet, err := h.attempts.SaveAnswers(ctx, caller, examID, req.ChangedAnswers)
	if err != nil {
		writeServiceError(conn, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:     ws.EventSaved,
		Saved:     len(req.ChangedAnswers),
		UpdatedAt: sheet.UpdatedAt,
	})
}

// handleSubmit finalizes the attempt. Grading happens asynchronously.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, caller model.Caller, examID uuid.UUID, raw json.RawMessage) {
	var req ws.SubmitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "final_answers is malformed")
		return
	}
	if err := req.FinalAnswers.CheckPatch(); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidAnswer), err.Error())
		return
	}

	sheet, err := h.attempts.Submit(ctx, caller, examID, model.SubmitRequest{
		FinalAnswers: req.FinalAnswers,
		Trigger:      req.Trigger,
	})
	if err != nil {
		writeServiceError(conn, err)
		return
	}

	wsLog.Info().Str("trigger", string(req.Trigger)).Msg("Exam submitted")
	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:       ws.EventSubmitted,
		Status:      sheet.Status,
		SubmittedAt: sheet.SubmittedAt,
	})
}

func (h *WSHandler) handleState(ctx context.Context, conn *websocket.Conn, caller model.Caller, examID uuid.UUID) {
	state, err := h.attempts.State(ctx, caller, examID)
	if err != nil {
		writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: state})
}

// writeServiceError reports a service error with the same code the HTTP
// surface would use.
func writeServiceError(conn *websocket.Conn, err error) {
	_, code := response.Classify(err)
	ws.WriteError(conn, string(code), response.GetMessage(code))
}
