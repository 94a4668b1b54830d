package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Specific codes are checked before the taxonomy roots they wrap.
var errorTable = []struct {
	err    error
	status int
	code   ErrCode
}{
	{service.ErrInvigilatorOnly, http.StatusForbidden, ErrInvigilatorOnly},
	{service.ErrStudentOnly, http.StatusForbidden, ErrStudentAccessOnly},
	{service.ErrNotParticipant, http.StatusForbidden, ErrNotExamParticipant},
	{service.ErrUnauthorized, http.StatusForbidden, ErrForbidden},

	{service.ErrExamNotOngoing, http.StatusConflict, ErrExamNotOngoing},
	{service.ErrNotApproved, http.StatusConflict, ErrJoinNotApproved},
	{service.ErrNotStarted, http.StatusConflict, ErrAttemptNotStarted},
	{service.ErrAlreadySubmitted, http.StatusConflict, ErrAlreadySubmitted},
	{service.ErrCountdownActive, http.StatusConflict, ErrCountdownActive},
	{service.ErrStaleConnection, http.StatusConflict, ErrStaleConnection},
	{service.ErrStateConflict, http.StatusConflict, ErrStateConflict},

	{service.ErrResultNotFound, http.StatusNotFound, ErrResultNotAvailable},
	{service.ErrNotFound, http.StatusNotFound, ErrNotFound},

	{service.ErrInvalidSignal, http.StatusBadRequest, ErrInvalidSignal},
	{service.ErrInvalidAnswer, http.StatusBadRequest, ErrInvalidAnswer},
	{service.ErrInvalidInput, http.StatusBadRequest, ErrInvalidPayload},
}

// Classify maps a service error to an HTTP status and error code.
// Unknown errors are internal.
func Classify(err error) (int, ErrCode) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, ErrInternal
}

// FromError writes the error envelope for a service error.
func FromError(c *gin.Context, err error) {
	status, code := Classify(err)
	Fail(c, status, code)
}

// ErrorFor reverses Classify for API clients: it returns the service error
// behind code, or the taxonomy root matching status when the code is not
// specific. Unknown statuses give nil.
func ErrorFor(status int, code ErrCode) error {
	for _, e := range errorTable {
		if e.code == code && e.status == status {
			return e.err
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return service.ErrUnauthorized
	case http.StatusConflict:
		return service.ErrStateConflict
	case http.StatusNotFound:
		return service.ErrNotFound
	case http.StatusBadRequest:
		return service.ErrInvalidInput
	}
	return nil
}
