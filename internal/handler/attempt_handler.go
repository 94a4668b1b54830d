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

// Attempts drives one student's exam attempt.
type Attempts interface {
	State(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.AttemptState, error)
	RequestStart(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.AnswerSheet, error)
	SaveAnswers(ctx context.Context, caller model.Caller, examID uuid.UUID, patch model.Answers) (*model.AnswerSheet, error)
	Submit(ctx context.Context, caller model.Caller, examID uuid.UUID, req model.SubmitRequest) (*model.AnswerSheet, error)
}

// Results reads graded results.
type Results interface {
	Result(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.ExamResult, error)
}

// AttemptHandler handles student-facing attempt endpoints.
type AttemptHandler struct {
	attempts Attempts
	results  Results
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts Attempts, results Results) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, results: results}
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns everything a (re)joining client needs to restore itself.
func (h *AttemptHandler) GetState(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	state, err := h.attempts.State(c.Request.Context(), caller, middleware.GetExamID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// RequestStart godoc
// POST /api/v1/student/exams/:exam_id/start
// Starts the timer once; repeated calls return the same start time.
func (h *AttemptHandler) RequestStart(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sheet, err := h.attempts.RequestStart(c.Request.Context(), caller, middleware.GetExamID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sheet)
}

// SaveAnswers godoc
// PATCH /api/v1/student/exams/:exam_id/answers
// Merges changed answers into the stored sheet.
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sheet, err := h.attempts.SaveAnswers(c.Request.Context(), caller, middleware.GetExamID(c), req.ChangedAnswers)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sheet)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	// A bare POST is a manual submit with nothing left unsaved.
	var req model.SubmitRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sheet, err := h.attempts.Submit(c.Request.Context(), caller, middleware.GetExamID(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sheet)
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
// Returns the caller's own graded result once grading has finished.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	res, err := h.results.Result(c.Request.Context(), caller, middleware.GetExamID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}
