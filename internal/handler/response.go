package handler

import (
	"errors"
	"net/http"

	"eventbook_auth/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	codeValidation         = "ValidationError"
	codeDuplicateEmail     = "DuplicateEmail"
	codeInvalidCredentials = "InvalidCredentials"
	codeUnauthenticated    = "Unauthenticated"
	codeInvalidToken       = "InvalidToken"
	codeForbidden          = "Forbidden"
	codeNotFound           = "NotFound"
	codeInternal           = "InternalError"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type authResponse struct {
	Message string `json:"message"`
	User    any    `json:"user"`
	Token   string `json:"token"`
}

func newErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Error: message, Code: code})
}

// writeError maps a service error onto a status and client-safe message.
// Anything unrecognised becomes internalMessage with no detail attached.
func writeError(c *gin.Context, err error, internalMessage string) {
	var vErr *service.ValidationError

	switch {
	case errors.As(err, &vErr):
		newErrorResponse(c, http.StatusBadRequest, codeValidation, vErr.Message)
	case errors.Is(err, service.ErrDuplicateEmail):
		newErrorResponse(c, http.StatusConflict, codeDuplicateEmail, "User with this email already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		newErrorResponse(c, http.StatusUnauthorized, codeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, service.ErrNotAuthenticated):
		newErrorResponse(c, http.StatusUnauthorized, codeUnauthenticated, "Authentication required")
	case errors.Is(err, service.ErrInvalidToken):
		newErrorResponse(c, http.StatusUnauthorized, codeInvalidToken, "Invalid or expired token")
	case errors.Is(err, service.ErrForbidden):
		newErrorResponse(c, http.StatusForbidden, codeForbidden, "Insufficient permissions")
	case errors.Is(err, service.ErrNotFound):
		newErrorResponse(c, http.StatusNotFound, codeNotFound, "User not found")
	default:
		newErrorResponse(c, http.StatusInternalServerError, codeInternal, internalMessage)
	}
}

func isClientError(err error) bool {
	var vErr *service.ValidationError

	return errors.As(err, &vErr) ||
		errors.Is(err, service.ErrDuplicateEmail) ||
		errors.Is(err, service.ErrInvalidCredentials) ||
		errors.Is(err, service.ErrNotAuthenticated) ||
		errors.Is(err, service.ErrInvalidToken) ||
		errors.Is(err, service.ErrForbidden) ||
		errors.Is(err, service.ErrNotFound)
}
