// Package config provides configuration for the runstream engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Worker process endpoint (runs the actual backend jobs)
	WorkerURL string

	// Timeouts
	JobTimeout          time.Duration
	ConsentStartTimeout time.Duration
	ConsentPollInterval time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:         getEnv("DATABASE_URL", "file:runstream.db?cache=shared&mode=rwc"),
		WorkerURL:           getEnv("WORKER_URL", "http://localhost:8090"),
		JobTimeout:          time.Duration(getEnvInt("JOB_TIMEOUT_MS", 600000)) * time.Millisecond,
		ConsentStartTimeout: time.Duration(getEnvInt("CONSENT_START_TIMEOUT_MS", 12000)) * time.Millisecond,
		ConsentPollInterval: time.Duration(getEnvInt("CONSENT_POLL_INTERVAL_MS", 1500)) * time.Millisecond,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
