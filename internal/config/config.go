// Package config provides configuration management for the LivePilot server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/livepilot/livepilot-go/pkg/liveproto"
)

// Config holds all configuration values for the server.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Target connection (the controlled audio application)
	TargetHost    string
	TargetTCPPort int // reliable request/response channel
	TargetUDPPort int // fire-and-forget channel
	TargetTimeout time.Duration
	TargetRetries int
	TargetBackoff time.Duration // initial retry backoff, doubled per attempt

	// Poller configuration
	PollRateHz      float64
	PollBufferSize  int
	PollFailBackoff time.Duration

	// Timing monitoring
	PollDriftThreshold time.Duration // only warn for drifts larger than threshold
	PollDriftThrottle  time.Duration // throttle repeated drift warnings

	// Rules configuration
	RulesPath  string
	RulesWatch bool // hot-reload the rules file on change

	// Sweep engine configuration
	SweepWriteRateHz float64 // per-sweep sample rate

	// CORS configuration
	CORSOrigin string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4000"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./livepilot.db"),

		// Target
		TargetHost:    getEnv("TARGET_HOST", liveproto.DefaultHost),
		TargetTCPPort: getEnvInt("TARGET_TCP_PORT", liveproto.DefaultTCPPort),
		TargetUDPPort: getEnvInt("TARGET_UDP_PORT", liveproto.DefaultUDPPort),
		TargetTimeout: time.Duration(getEnvInt("TARGET_TIMEOUT_MS", 2000)) * time.Millisecond,
		TargetRetries: getEnvInt("TARGET_RETRIES", 3),
		TargetBackoff: time.Duration(getEnvInt("TARGET_BACKOFF_MS", 500)) * time.Millisecond,

		// Poller
		PollRateHz:      getEnvFloat("POLL_RATE", 10),
		PollBufferSize:  getEnvInt("POLL_BUFFER_SIZE", 100),
		PollFailBackoff: time.Duration(getEnvInt("POLL_FAIL_BACKOFF_MS", 1000)) * time.Millisecond,

		// Timing monitoring
		PollDriftThreshold: time.Duration(getEnvInt("POLL_DRIFT_THRESHOLD", 50)) * time.Millisecond,
		PollDriftThrottle:  time.Duration(getEnvInt("POLL_DRIFT_THROTTLE", 5000)) * time.Millisecond,

		// Rules
		RulesPath:  getEnv("RULES_PATH", "./configs/rules.yaml"),
		RulesWatch: getEnvBool("RULES_WATCH", true),

		// Sweeps
		SweepWriteRateHz: getEnvFloat("SWEEP_WRITE_RATE", 20),

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the float value of an environment variable or a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
