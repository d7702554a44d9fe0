// Package http implements the Gateway Front's HTTP/JSON surface:
// versioned routes under /api/v1, a standard error envelope, and
// bearer-token middleware.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/principal"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/gateway"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

// ErrorBody is the error envelope's body:
// { "error": { "code", "message", "details", "request_id" } }.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// WriteError maps a gateway error to its HTTP status/code pair, filling
// in request_id from the inbound X-Request-ID header (or a generated
// one, so every error response can be correlated even when the caller
// didn't send one).
func WriteError(c *gin.Context, err error) {
	status, code, message := classify(err)
	WriteErrorCode(c, status, code, message)
}

func WriteErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: RequestID(c),
	}})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, gateway.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token"
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "insufficient permission"
	case errors.Is(err, gateway.ErrClassification):
		return http.StatusForbidden, "FORBIDDEN", "classification exceeds role ceiling"
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", "validation failed"
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "not found"
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded"
	case errors.Is(err, gateway.ErrQueueFull):
		return http.StatusServiceUnavailable, "QUEUE_FULL", "queue full"
	case errors.Is(err, gateway.ErrIntegrity):
		return http.StatusInternalServerError, "INTEGRITY_ERROR", "integrity check failed"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}

// AuthMiddleware verifies the bearer token on every protected route and
// stashes the resulting principal on the context. Per-operation
// permission checks live inside gateway.Service itself (it emits the
// AC-family audit events that require a resolved principal), so this
// middleware's only job is authentication plus request-id propagation.
func AuthMiddleware(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)

		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			WriteErrorCode(c, http.StatusUnauthorized, "INVALID_TOKEN", "missing bearer token")
			return
		}
		token := strings.TrimSpace(header[len(prefix):])

		p, err := svc.Authenticate(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			WriteError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func PrincipalFromContext(c *gin.Context) (principal.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return principal.Principal{}, false
	}
	p, ok := value.(principal.Principal)
	return p, ok
}

func RequestID(c *gin.Context) string {
	if value, ok := c.Get(requestIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-ID")); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	return id
}
