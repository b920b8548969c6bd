package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/po-workflow/internal/domain/apperr"
)

// Response represents a standard JSON response
type Response struct {
	Success bool                `json:"success"`
	Data    interface{}         `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    string              `json:"code,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

// ListResponse wraps a page of results
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// StatusFor maps an application error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrTokenAlreadyUsed):
		return http.StatusGone
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrTokenInvalid),
		errors.Is(err, apperr.ErrTokenExpired):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInsufficientCapital):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrMaterialCreationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// fail writes an error response. Internal errors are logged and their detail hidden.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := Response{Success: false, Error: err.Error(), Code: apperr.Code(err)}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(ctxKeyRequestID),
			"error", err,
		)
		resp.Error = "internal server error"
	}

	c.AbortWithStatusJSON(status, resp)
}

func (h *Handlers) badRequest(c *gin.Context, field string, err error) {
	h.fail(c, apperr.Validation(field, err.Error()))
}
