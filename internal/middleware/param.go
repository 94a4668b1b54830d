package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// ContextKeyExamID is the Gin context key for the parsed :exam_id parameter.
const ContextKeyExamID = "exam_id"

// ExamIDParam parses :exam_id once for the whole route group and tags the
// request logger with it.
func ExamIDParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		examID, err := uuid.Parse(c.Param("exam_id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		c.Set(ContextKeyExamID, examID)

		ctx := c.Request.Context()
		log := zerolog.Ctx(ctx).With().Str("exam_id", examID.String()).Logger()
		c.Request = c.Request.WithContext(log.WithContext(ctx))
		c.Next()
	}
}

// GetExamID returns the exam ID parsed by ExamIDParam.
func GetExamID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ContextKeyExamID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
