package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const maxAlertsPerPage = 100

// Alerts lists stored cheating alerts.
type Alerts interface {
	List(ctx context.Context, caller model.Caller, examID uuid.UUID, page, perPage int) ([]model.CheatingAlert, int64, error)
}

// AlertHandler serves the invigilator's alert list.
type AlertHandler struct {
	alerts Alerts
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(alerts Alerts) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// ListAlerts godoc
// GET /api/v1/invigilator/exams/:exam_id/alerts?page=1&per_page=20
// Returns the exam's alerts, newest first.
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxAlertsPerPage {
		perPage = 20
	}

	alerts, total, err := h.alerts.List(c.Request.Context(), caller, middleware.GetExamID(c), page, perPage)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if alerts == nil {
		alerts = []model.CheatingAlert{}
	}

	response.SuccessWithPagination(c, http.StatusOK, alerts, response.NewPagination(page, perPage, total))
}
