package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionRegistry is the session half of the proctoring core.
type SessionRegistry interface {
	StartSession(ctx context.Context, caller model.Caller, examID uuid.UUID, connectionID string) (*model.ProctoringSession, error)
	EndSession(ctx context.Context, caller model.Caller, sessionID uuid.UUID) error
	ListActiveSessions(ctx context.Context, caller model.Caller, examID uuid.UUID) ([]model.ProctoringSession, error)
}

// SignalRelay is the mailbox half of the proctoring core.
type SignalRelay interface {
	Send(ctx context.Context, caller model.Caller, examID uuid.UUID, req model.SendSignalRequest) (*model.ProctoringSignal, error)
	SignalsFor(ctx context.Context, caller model.Caller, examID uuid.UUID) ([]model.ProctoringSignal, error)
}

// ProctoringHandler exposes the session registry and the signal relay.
type ProctoringHandler struct {
	sessions SessionRegistry
	relay    SignalRelay
}

// NewProctoringHandler creates a new ProctoringHandler.
func NewProctoringHandler(sessions SessionRegistry, relay SignalRelay) *ProctoringHandler {
	return &ProctoringHandler{sessions: sessions, relay: relay}
}

// StartSession godoc
// POST /api/v1/proctoring/exams/:exam_id/sessions
// Registers the student's live connection, replacing any earlier one.
func (h *ProctoringHandler) StartSession(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessions.StartSession(c.Request.Context(), caller, middleware.GetExamID(c), req.ConnectionID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// EndSession godoc
// DELETE /api/v1/proctoring/sessions/:session_id
// Ends the caller's own session together with its signals.
func (h *ProctoringHandler) EndSession(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessions.EndSession(c.Request.Context(), caller, sessionID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

// ListActiveSessions godoc
// GET /api/v1/proctoring/exams/:exam_id/sessions
func (h *ProctoringHandler) ListActiveSessions(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.sessions.ListActiveSessions(c.Request.Context(), caller, middleware.GetExamID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.ProctoringSession{}
	}

	response.Success(c, http.StatusOK, sessions)
}

// SendSignal godoc
// POST /api/v1/proctoring/exams/:exam_id/signals
// Appends a negotiation message for the counterpart of the caller.
func (h *ProctoringHandler) SendSignal(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SendSignalRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sig, err := h.relay.Send(c.Request.Context(), caller, middleware.GetExamID(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sig)
}

// SignalsFor godoc
// GET /api/v1/proctoring/exams/:exam_id/signals
// Returns every live signal addressed to the caller, oldest first.
func (h *ProctoringHandler) SignalsFor(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	signals, err := h.relay.SignalsFor(c.Request.Context(), caller, middleware.GetExamID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if signals == nil {
		signals = []model.ProctoringSignal{}
	}

	response.Success(c, http.StatusOK, signals)
}
