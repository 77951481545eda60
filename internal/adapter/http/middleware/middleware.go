package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// Context keys
	CtxAccountID = "account_id"

	bearerPrefix = "Bearer "
)

// JWTAuth creates a middleware that validates JWT tokens for merchant routes.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(authHeader[len(bearerPrefix):])
		if err != nil {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxAccountID, claims.AccountID)
		c.Next()
	}
}

// InternalAuth creates a middleware guarding operator-only routes with a
// shared bearer key. Both sides are hashed before comparison so the check is
// constant-time regardless of key length.
func InternalAuth(internalKey string, log zerolog.Logger) gin.HandlerFunc {
	expected := sha256.Sum256([]byte(internalKey))

	return func(c *gin.Context) {
		if internalKey == "" {
			log.Error().Msg("internal API key not configured, rejecting request")
			response.Error(c, apperror.ErrInternalKeyNotConfigured())
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			response.Error(c, apperror.ErrInvalidInternalKey())
			c.Abort()
			return
		}

		presented := sha256.Sum256([]byte(authHeader[len(bearerPrefix):]))
		if subtle.ConstantTimeCompare(expected[:], presented[:]) != 1 {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("internal endpoint called with bad key")
			response.Error(c, apperror.ErrInvalidInternalKey())
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
