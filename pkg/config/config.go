// Package config loads environment-driven settings and the tracks/risk
// limit structure consumed by the execution core.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings.
type Config struct {
	// Gateway link
	GatewayAddr    string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxRebuilds    int

	// Heartbeat
	HeartbeatInterval  time.Duration
	HeartbeatThreshold int

	// Risk monitor account refresh
	AccountPollInterval time.Duration

	// Ambiguous-order reconciliation
	ReconInterval   time.Duration
	ReconMaxPending int

	// Audit batching
	AuditBatchSize     int
	AuditFlushInterval time.Duration

	// Operator API
	APIAddr   string
	JWTSecret string

	// Persistence
	DBPath string

	// Tracks / risk limits file
	TracksPath string

	// Logging
	LogLevel string
	LogJSON  bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the process still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		GatewayAddr:         getEnv("GATEWAY_ADDR", "127.0.0.1:5555"),
		DialTimeout:         getEnvDuration("GATEWAY_DIAL_TIMEOUT_MS", 5000),
		RequestTimeout:      getEnvDuration("GATEWAY_REQUEST_TIMEOUT_MS", 10000),
		MaxRebuilds:         getEnvInt("GATEWAY_MAX_REBUILDS", 3),
		HeartbeatInterval:   getEnvDuration("HEARTBEAT_INTERVAL_MS", 30000),
		HeartbeatThreshold:  getEnvInt("HEARTBEAT_FAILURE_THRESHOLD", 3),
		AccountPollInterval: getEnvDuration("ACCOUNT_POLL_MS", 5000),
		ReconInterval:       getEnvDuration("RECON_INTERVAL_MS", 60000),
		ReconMaxPending:     getEnvInt("RECON_MAX_PENDING", 10),
		AuditBatchSize:      getEnvInt("AUDIT_BATCH_SIZE", 50),
		AuditFlushInterval:  getEnvDuration("AUDIT_FLUSH_MS", 500),
		APIAddr:             getEnv("API_ADDR", ":8080"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		DBPath:              getEnv("DB_PATH", "./data/execution.db"),
		TracksPath:          getEnv("TRACKS_CONFIG", "./tracks.yaml"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogJSON:             getEnv("LOG_JSON", "true") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, defMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defMillis)) * time.Millisecond
}
