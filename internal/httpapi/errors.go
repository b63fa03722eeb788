package httpapi

import (
	"errors"
	"net/http"

	"link-platform/internal/apperr"

	"github.com/gin-gonic/gin"
)

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyInCall), errors.Is(err, apperr.ErrTransitionRejected):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: apperr.Code(err)}
	if status >= http.StatusInternalServerError {
		// Store and internal causes stay in the log.
		_ = c.Error(err)
		body.Error = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: apperr.CodeValidationFailed})
}
