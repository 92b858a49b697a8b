package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig

	// MongoDB Configuration (the document store)
	MongoDB MongoDBConfig

	// Notification Configuration
	Notification NotificationConfig

	// JWT Configuration
	JWT JWTConfig
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	Environment  string // development, staging, production
}

// MongoDBConfig contains document store connection configuration
type MongoDBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// NotificationConfig tunes the fan-out engine and the notification center.
type NotificationConfig struct {
	// FreshnessWindowSec separates just-arrived messages from the backlog a
	// listener replays on attach. Seconds.
	FreshnessWindowSec int
	// DuplicateWindowMs is the same-sender/same-conversation suppression
	// window in the notification center. Milliseconds.
	DuplicateWindowMs int
	// ToastDismissSec is how long an in-app toast stays up. Seconds.
	ToastDismissSec int
	// ProcessedTTLMin bounds the processed-message dedup cache. Minutes.
	ProcessedTTLMin int
	// SendRatePerSec caps message sends across the service.
	SendRatePerSec int
}

type JWTConfig struct {
	Secret string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, using system env variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "7005"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		MongoDB: MongoDBConfig{
			Host:     getEnv("MONGO_HOST", "localhost"),
			Port:     getEnv("MONGO_PORT", "27017"),
			Username: getEnv("MONGO_USERNAME", "admin"),
			Password: getEnv("MONGO_PASSWORD", "admin123"),
			Database: getEnv("MONGO_DATABASE", "medichat"),
		},
		Notification: NotificationConfig{
			FreshnessWindowSec: getEnvInt("NOTIF_FRESHNESS_WINDOW_SEC", 30),
			DuplicateWindowMs:  getEnvInt("NOTIF_DUPLICATE_WINDOW_MS", 2000),
			ToastDismissSec:    getEnvInt("NOTIF_TOAST_DISMISS_SEC", 4),
			ProcessedTTLMin:    getEnvInt("NOTIF_PROCESSED_TTL_MIN", 30),
			SendRatePerSec:     getEnvInt("CHAT_SEND_RATE_PER_SEC", 20),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		},
	}
}

// GetMongoURI builds the connection string from the MongoDB section.
func (cfg *Config) GetMongoURI() string {
	if cfg.MongoDB.Username == "" {
		return fmt.Sprintf("mongodb://%s:%s", cfg.MongoDB.Host, cfg.MongoDB.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s",
		cfg.MongoDB.Username,
		cfg.MongoDB.Password,
		cfg.MongoDB.Host,
		cfg.MongoDB.Port,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %q, using default %d", key, value, fallback)
		return fallback
	}
	return n
}
