package httpapi

import (
	"errors"
	"net/http"

	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// statusFor maps engine errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, pipeline.ErrUnknownStage):
		return http.StatusBadRequest, "unknown_stage"
	case errors.Is(err, pipeline.ErrCannotUndoCreation):
		return http.StatusBadRequest, "cannot_undo_creation"
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pipeline.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pipeline.ErrAlreadyUndone):
		return http.StatusConflict, "already_undone"
	case errors.Is(err, pipeline.ErrNotLatest):
		return http.StatusConflict, "not_latest"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as a JSON error body. Internal errors are
// logged and their detail is withheld from the client.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	abortWithError(c, status, code, msg)
}

func badRequest(c *gin.Context, msg string) {
	abortWithError(c, http.StatusBadRequest, "bad_request", msg)
}
