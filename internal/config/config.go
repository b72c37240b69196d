package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the parcel editing server
type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Auth    AuthConfig
	Logging LoggingConfig
	Editor  EditorConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Environment    string
	AllowedOrigins []string
}

// GatewayConfig holds the parcel backend connection settings
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTExpiration time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// EditorConfig holds edit session tuning
type EditorConfig struct {
	SyncInterval time.Duration
	DefaultColor string
	Epsilon      float64
}

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Load reads configuration from environment variables and .env file
// The .env file is loaded from the current working directory
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Environment variables can still be set directly
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:    getEnv("ENVIRONMENT", "development"),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS", defaultAllowedOrigins),
		},
		Gateway: GatewayConfig{
			// Use 127.0.0.1 instead of localhost for better Windows compatibility (avoids IPv6 issues)
			BaseURL: strings.TrimRight(getEnv("GATEWAY_BASE_URL", "http://127.0.0.1:8081/api"), "/"),
			Timeout: getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTIssuer:     getEnv("JWT_ISSUER", "parcelmap"),
			JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT_PATH", ""),
		},
		Editor: EditorConfig{
			SyncInterval: getDurationEnv("EDITOR_SYNC_INTERVAL", 16*time.Millisecond),
			DefaultColor: getEnv("EDITOR_DEFAULT_COLOR", "#3388ff"),
			Epsilon:      getFloatEnv("EDITOR_EPSILON", 1e-10),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if c.Editor.SyncInterval <= 0 {
		return fmt.Errorf("EDITOR_SYNC_INTERVAL must be positive")
	}
	if c.Editor.Epsilon <= 0 {
		return fmt.Errorf("EDITOR_EPSILON must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid float value for %s: %s, using default: %g", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
