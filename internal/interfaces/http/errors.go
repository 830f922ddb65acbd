package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// errorStatus maps application errors to a status code and the details
// safe to show the caller. The bool is false for unexpected failures.
func errorStatus(err error) (int, interface{}, bool) {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, fieldErrs, true
	}
	var ruleErr validation.Error
	if errors.As(err, &ruleErr) {
		return http.StatusBadRequest, nil, true
	}

	var docErr *workflow.IncompleteDocumentsError
	if errors.As(err, &docErr) {
		return http.StatusUnprocessableEntity, gin.H{"missing_documents": docErr.Missing}, true
	}

	switch {
	case errors.Is(err, workflow.ErrInvalidStatus):
		return http.StatusBadRequest, nil, true
	case errors.Is(err, workflow.ErrMissingComment):
		return http.StatusUnprocessableEntity, nil, true
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrStatusConflict),
		errors.Is(err, workflow.ErrFollowUpsInProgress):
		return http.StatusConflict, nil, true
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden, nil, true
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, nil, true
	case errors.Is(err, port.ErrRateLimited):
		return http.StatusTooManyRequests, nil, true
	case errors.Is(err, port.ErrPaymentRequired):
		return http.StatusPaymentRequired, nil, true
	}
	return http.StatusInternalServerError, nil, false
}

// respondError writes the error envelope. Unexpected errors are logged and
// replaced by a generic message.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status, details, known := errorStatus(err)
	msg := err.Error()
	if !known {
		h.logger.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		msg = "internal server error"
	}
	if _, ok := details.(validation.Errors); ok {
		msg = "validation failed"
	}
	c.JSON(status, Response{Success: false, Error: msg, Details: details})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}
