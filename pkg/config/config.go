// Package config loads application configuration from environment
// variables, prefixed BACKOFFICE_.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crestline/backoffice/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Retention     RetentionConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis settings for the rate limiter
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig holds per-org API rate limit settings
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RetentionConfig holds background retention job settings
type RetentionConfig struct {
	AuditRetention  time.Duration
	PurgeSchedule   string
	CleanupSchedule string
}

// ObservabilityConfig holds logging, metrics and analytics settings
type ObservabilityConfig struct {
	LogLevel         observability.LogLevel
	MetricsEnabled   bool
	AnalyticsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BACKOFFICE_HOST", "0.0.0.0"),
			Port:            getEnv("BACKOFFICE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BACKOFFICE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BACKOFFICE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BACKOFFICE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BACKOFFICE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("BACKOFFICE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("BACKOFFICE_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("BACKOFFICE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("BACKOFFICE_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("BACKOFFICE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("BACKOFFICE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("BACKOFFICE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BACKOFFICE_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("BACKOFFICE_RATE_LIMIT_REQUESTS", 600),
			WindowDuration:    getEnvDuration("BACKOFFICE_RATE_LIMIT_WINDOW", time.Minute),
		},
		Retention: RetentionConfig{
			AuditRetention:  getEnvDuration("BACKOFFICE_AUDIT_RETENTION", 365*24*time.Hour),
			PurgeSchedule:   getEnv("BACKOFFICE_PURGE_SCHEDULE", "0 3 * * *"),
			CleanupSchedule: getEnv("BACKOFFICE_CLEANUP_SCHEDULE", "30 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:         observability.ParseLogLevel(getEnv("BACKOFFICE_LOG_LEVEL", "info")),
			MetricsEnabled:   getEnvBool("BACKOFFICE_METRICS_ENABLED", true),
			AnalyticsEnabled: getEnvBool("BACKOFFICE_ANALYTICS_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("BACKOFFICE_POSTGRES_URL is required")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate limit requests per window must be positive")
	}
	if c.Retention.AuditRetention <= 0 {
		return fmt.Errorf("audit retention must be positive")
	}
	return nil
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
