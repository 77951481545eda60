package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpay-gateway/config"
	httpHandler "chainpay-gateway/internal/adapter/http/handler"
	pgStorage "chainpay-gateway/internal/adapter/storage/postgres"
	redisStorage "chainpay-gateway/internal/adapter/storage/redis"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/service"
	"chainpay-gateway/internal/worker"
	"chainpay-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting ChainPay Gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	sessionRepo := pgStorage.NewSessionRepo(pool)
	endpointRepo := pgStorage.NewEndpointRepo(pool)
	deliveryRepo := pgStorage.NewDeliveryRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Shared circuit breaker state lives in Redis so every worker process
	// sees the same per-endpoint counters.
	breaker := redisStorage.NewCircuitBreakerStore(rdb, log)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize business services
	webhookQueue := service.NewWebhookQueueService(endpointRepo, deliveryRepo, log)
	paymentSvc := service.NewPaymentService(sessionRepo, webhookQueue, transactor, log)
	dispatcher := service.NewDeliveryService(
		deliveryRepo,
		endpointRepo,
		breaker,
		encSvc,
		sigSvc,
		&http.Client{Timeout: cfg.Webhook.HTTPTimeout},
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Start session expiry worker
	expiryWorker := worker.NewExpiryWorker(paymentSvc, cfg.Worker.ExpiryInterval, log)
	go func() {
		if err := expiryWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Expiry worker stopped unexpectedly")
		}
	}()

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		Dispatcher:     dispatcher,
		DeliveryRepo:   deliveryRepo,
		TokenSvc:       tokenSvc,
		InternalKey:    cfg.Webhook.InternalKey,
		ProcessBatch:   cfg.Webhook.ProcessBatch,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
