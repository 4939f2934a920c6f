package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"eventbook_auth/internal/models"
	"eventbook_auth/internal/service"

	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// AuthGate admits a request only with a valid bearer token whose role is in
// required. With no required roles any authenticated caller passes. The
// verified identity is attached to the request context.
func AuthGate(authn Authenticator, log *slog.Logger, required ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			newErrorResponse(c, http.StatusUnauthorized, codeUnauthenticated, "Authentication required")

			return
		}

		identity, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			if isClientError(err) {
				newErrorResponse(c, http.StatusUnauthorized, codeInvalidToken, "Invalid or expired token")

				return
			}

			log.Error("failed to authenticate request", slog.String("op", "handler.AuthGate"), slog.Any("error", err))
			writeError(c, err, "Authentication failed")

			return
		}

		if err := service.RequireRole(identity, required...); err != nil {
			writeError(c, err, "Access check failed")

			return
		}

		c.Request = c.Request.WithContext(models.WithIdentity(c.Request.Context(), identity))

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
