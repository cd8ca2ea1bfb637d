package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/storely/storefront-api/internal/auth"
	"github.com/storely/storefront-api/internal/database"
	"github.com/storely/storefront-api/internal/metrics"
	"github.com/storely/storefront-api/internal/orders"
	"github.com/storely/storefront-api/internal/payments"
	"github.com/storely/storefront-api/internal/webhooks"
	"github.com/storely/storefront-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the storefront API server with graceful
// shutdown support. It sets up all required services, database
// connections, and API routes.
func main() {
	jwtSecret := envOr("JWT_SECRET", "storefront-secret-key")
	webhookSecret := envOr("WEBHOOK_SECRET", "whsec-test")

	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAPICredentials(auth.TestAdminAPIKey, auth.TestAdminAPISecret, "shop", "admin")

	collector := metrics.NewCollector(metrics.DefaultCapacity)
	metricsHandlers := metrics.NewGinHandlers(collector)

	orderService := orders.NewService(db, payments.NewClient(), collector)
	orderHandlers := orders.NewGinHandlers(orderService)

	webhookService := webhooks.NewService(db, orderService, collector)
	webhookHandlers := webhooks.NewGinHandlers(webhookService)

	// Create and start retention sweeper
	sweeper := webhooks.NewSweeper(db)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, jwtSecret, webhookSecret, authHandlers, orderHandlers, webhookHandlers, metricsHandlers)

	// Prometheus exposition for the metrics collector
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Webhook routes: Protected by the provider's shared secret
// - Internal routes: Protected by internal (admin) authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	webhookSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	webhookHandlers *webhooks.GinHandlers,
	metricsHandlers *metrics.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("/:order_number", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_number/cancel", orderHandlers.CancelOrderHandler())
		}

		// Webhook routes (called by the payment provider)
		webhookGroup := v1.Group("/webhooks")
		webhookGroup.Use(middleware.WebhookAuth(webhookSecret))
		{
			webhookGroup.POST("/:provider", webhookHandlers.HandleEventHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/orders/:order_number/status", orderHandlers.UpdateOrderStatusHandler())
			internal.GET("/metrics/:key", metricsHandlers.GetMetricHandler())
		}
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
