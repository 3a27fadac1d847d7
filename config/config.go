package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the meal analysis service
type Config struct {
	// Server configuration
	Port   string
	Region string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Storage configuration
	StorageBucket string

	// Clarifai configuration
	ClarifaiPAT            string
	ClarifaiUserID         string
	ClarifaiAppID          string
	ClarifaiModelID        string
	ClarifaiModelVersionID string

	// OpenAI configuration
	OpenAIAPIKey      string
	OpenAIAssistantID string
	RunPollInterval   time.Duration

	// Auth configuration
	JWTSecret     string
	TokenValidity time.Duration

	// RabbitMQ configuration (optional)
	AMQPURL             string
	AMQPExchange        string
	AMQPAnalyzedRouting string

	// CORS
	AllowedOrigins string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		// Server defaults
		Port:   getEnv("PORT", "8080"),
		Region: getEnv("FUNCTION_REGION", "asia-northeast3"),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "mealapp"),

		// Storage defaults
		StorageBucket: getEnv("STORAGE_BUCKET", ""),

		// Clarifai defaults
		ClarifaiPAT:            getEnv("CLARIFAI_PAT", ""),
		ClarifaiUserID:         getEnv("CLARIFAI_USER_ID", "clarifai"),
		ClarifaiAppID:          getEnv("CLARIFAI_APP_ID", "main"),
		ClarifaiModelID:        getEnv("CLARIFAI_MODEL_ID", "food-item-recognition"),
		ClarifaiModelVersionID: getEnv("CLARIFAI_MODEL_VERSION_ID", "1d5fd481e0cf4826aa72ec3ff049e044"),

		// OpenAI defaults
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIAssistantID: getEnv("OPENAI_ASSISTANT_ID", ""),
		RunPollInterval:   getDurationEnv("RUN_POLL_INTERVAL", 1*time.Second),

		// Auth defaults
		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenValidity: getDurationEnv("TOKEN_VALIDITY", 1*time.Hour),

		// RabbitMQ defaults (publisher is skipped when AMQP_URL is empty)
		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "meal-events"),
		AMQPAnalyzedRouting: getEnv("AMQP_ANALYZED_ROUTING_KEY", "meal.analyzed"),

		// CORS defaults
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
