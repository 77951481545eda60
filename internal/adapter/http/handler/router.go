package handler

import (
	"chainpay-gateway/internal/adapter/http/middleware"
	"chainpay-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	Dispatcher     ports.WebhookDispatcher
	DeliveryRepo   ports.WebhookDeliveryRepository
	TokenSvc       ports.TokenService
	InternalKey    string
	ProcessBatch   int
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check, verifies PostgreSQL and Redis
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	sessionHandler := NewSessionHandler(deps.PaymentSvc, deps.DeliveryRepo)
	internalHandler := NewInternalHandler(deps.Dispatcher, deps.TokenSvc, deps.ProcessBatch, deps.Logger)

	// --- JWT-authenticated routes (merchant API) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	v1 := r.Group("/api/v1")
	sessions := v1.Group("/sessions", jwtAuth)
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.GET("/:id/deliveries", sessionHandler.ListDeliveries)
	}

	// --- Internal routes (shared-key authenticated) ---
	// Status transitions come from the chain watcher, never from merchants.
	internalAuth := middleware.InternalAuth(deps.InternalKey, deps.Logger)
	internal := r.Group("/internal", internalAuth)
	{
		internal.PATCH("/sessions/:id/status", sessionHandler.UpdateStatus)
		internal.POST("/webhooks/process", internalHandler.ProcessWebhookQueue)
		internal.POST("/accounts/:id/token", internalHandler.IssueToken)
	}

	return r
}
