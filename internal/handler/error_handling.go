package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, model.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		message = "Authentication required"
	case errors.Is(err, model.ErrForbidden):
		statusCode = http.StatusForbidden
		message = "Access denied"
	case errors.Is(err, model.ErrSessionNotFound),
		errors.Is(err, model.ErrPhaseResultNotFound),
		errors.Is(err, model.ErrVersionNotFound),
		errors.Is(err, model.ErrFeedbackNotFound),
		errors.Is(err, model.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "Resource not found"
	case errors.Is(err, model.ErrUserHasActiveSession):
		statusCode = http.StatusConflict
		message = "User already has an active session"
	case errors.Is(err, model.ErrSessionTerminal):
		statusCode = http.StatusConflict
		message = "Session is already finished"
	case errors.Is(err, model.ErrInvalidFeedback),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrBadRequest):
		statusCode = http.StatusBadRequest
		message = err.Error()
	default:
		zap.L().Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(statusCode, APIError{Message: message})
}
