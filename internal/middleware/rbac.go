package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RequireRole rejects callers whose token does not claim role. Whether the
// caller actually participates in an exam is checked by the services.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if claims.Role != role {
			code := response.ErrStudentAccessOnly
			if role == model.RoleInvigilator {
				code = response.ErrInvigilatorOnly
			}
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}

		c.Next()
	}
}
