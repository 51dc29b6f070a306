package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/Praxis/internal/services"
)

type APIError struct {
	Message string                `json:"message"`
	Code    string                `json:"code,omitempty"`
	Details []services.FieldError `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorDuplicateTitle, services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError maps service errors onto the envelope. Anything that is not a
// ServiceError is logged and reported as an opaque 500.
func (h *handlers) respondError(c *gin.Context, err error) {
	if se, ok := services.AsServiceError(err); ok {
		c.JSON(statusFor(se.Code), ErrorEnvelope{Error: APIError{Message: se.Message, Code: string(se.Code), Details: se.Details}})
		return
	}
	if errors.Is(err, context.Canceled) {
		// client went away
		c.AbortWithStatus(499)
		return
	}
	_ = c.Error(err)
	h.log.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{Error: APIError{Message: "internal error", Code: "internal"}})
}

func (h *handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: string(services.ErrorInvalid)}})
}
