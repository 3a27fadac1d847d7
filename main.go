package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meal-analysis-service/auth"
	"meal-analysis-service/clarifai"
	"meal-analysis-service/config"
	"meal-analysis-service/database"
	"meal-analysis-service/handlers"
	"meal-analysis-service/metrics"
	"meal-analysis-service/middleware"
	"meal-analysis-service/openai"
	"meal-analysis-service/pipeline"
	"meal-analysis-service/rabbitmq"
	"meal-analysis-service/storage"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Validate required configuration
	if cfg.OpenAIAPIKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}
	if cfg.OpenAIAssistantID == "" {
		log.Fatal("OPENAI_ASSISTANT_ID environment variable is required")
	}
	if cfg.ClarifaiPAT == "" {
		log.Fatal("CLARIFAI_PAT environment variable is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	metrics.Register()

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.CreateUsersTable(); err != nil {
		log.Fatalf("Failed to create users table: %v", err)
	}

	// Initialize collaborators
	ctx := context.Background()
	fetcher, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize storage client: %v", err)
	}

	detector := clarifai.NewClient(
		cfg.ClarifaiPAT,
		cfg.ClarifaiUserID,
		cfg.ClarifaiAppID,
		cfg.ClarifaiModelID,
		cfg.ClarifaiModelVersionID,
	)

	analyzer := openai.NewAssistantClient(cfg.OpenAIAPIKey, cfg.OpenAIAssistantID, cfg.RunPollInterval)

	orchestrator := pipeline.NewOrchestrator(fetcher, detector, analyzer)
	tokenService := auth.NewTokenService(db, cfg.JWTSecret, cfg.TokenValidity)

	// Initialize RabbitMQ publisher; analysis works without it
	var publisher *rabbitmq.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPAnalyzedRouting)
		if err != nil {
			log.Warnf("Failed to initialize RabbitMQ publisher: %v", err)
			publisher = nil
		}
	}
	defer publisher.Close()

	h := handlers.NewHandlers(orchestrator, tokenService, publisher, cfg.Region)

	// Setup router
	router := gin.Default()
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	router.Use(middleware.RequestIDMiddleware())

	// API routes
	api := router.Group("/api/v3")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/token", h.CreateToken)
		api.POST("/analyze", middleware.AuthMiddleware(tokenService), h.Analyze)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on port %s (region %s)", cfg.Port, cfg.Region)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
