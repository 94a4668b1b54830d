package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every proctoring and attempt endpoint returns.
// Data holds the resource itself; lists are never null.
type Response struct {
	Data       any         `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody carries the error code clients switch on. Fields is set for
// validation failures only.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes one page of a paged list such as the alert feed.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// NewPagination builds the page description for total items split into
// pages of perPage.
func NewPagination(page, perPage int, total int64) *Pagination {
	p := &Pagination{Page: page, PerPage: perPage, TotalItems: total}
	if perPage > 0 {
		p.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return p
}

// Metadata ties a response to its request log line. Timestamp is server
// time in RFC 3339.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ─── Success ───────────────────────────────────────────────────────────────

// Success writes data with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Data: data, Metadata: buildMetadata(c)})
}

// SuccessWithPagination writes one page of a list.
func SuccessWithPagination(c *gin.Context, statusCode int, data any, pagination *Pagination) {
	c.JSON(statusCode, Response{Data: data, Pagination: pagination, Metadata: buildMetadata(c)})
}

// ─── Failure ───────────────────────────────────────────────────────────────

// Fail writes an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, failure(c, code, nil))
}

// FailWithFields writes an error envelope with per-field validation messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, failure(c, code, fields))
}

// AbortFail stops the middleware chain with an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, failure(c, code, nil))
}

func failure(c *gin.Context, code ErrCode, fields map[string]string) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	}
}

func buildMetadata(c *gin.Context) Metadata {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
