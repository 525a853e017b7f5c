package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ListenHost string
	ListenPort int
	Env        string

	// CORS
	AllowedOrigins []string

	// Relational store
	DBEngine   string
	DBName     string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     int
	DBPoolMax  int
	DBTimeout  time.Duration

	// Optional collaborators
	ClickHouseURL string
	RedisURL      string

	// Ingest
	RequestBodyMaxBytes  int64
	ReadTimeout          time.Duration
	TokenRefreshInterval time.Duration
	MatchIdleTimeout     time.Duration
	LegacyAuthToken      string
	DispatchWorkers      int
	IngestQueueSize      int

	// Analytics sink
	WorkerCount   int
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		ListenHost: getEnv("LISTEN_HOST", "0.0.0.0"),
		ListenPort: getEnvInt("LISTEN_PORT", 3000),
		Env:        getEnv("ENV", "development"),

		DBEngine:  getEnv("DB_ENGINE", "postgresql"),
		DBPoolMax: getEnvInt("DB_POOL_MAX", 16),
		DBTimeout: getEnvDuration("DB_TIMEOUT", 5*time.Second),

		ClickHouseURL: getEnv("CLICKHOUSE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),

		RequestBodyMaxBytes:  int64(getEnvInt("REQUEST_BODY_MAX_BYTES", 131072)),
		ReadTimeout:          getEnvDuration("READ_TIMEOUT", 5*time.Second),
		TokenRefreshInterval: time.Duration(getEnvInt("TOKEN_REFRESH_INTERVAL_S", 600)) * time.Second,
		MatchIdleTimeout:     time.Duration(getEnvInt("MATCH_IDLE_TIMEOUT_S", 600)) * time.Second,
		LegacyAuthToken:      getEnv("LEGACY_AUTH_TOKEN", ""),
		DispatchWorkers:      getEnvInt("DISPATCH_WORKERS", 4),
		IngestQueueSize:      getEnvInt("INGEST_QUEUE_SIZE", 4096),

		WorkerCount:   getEnvInt("WORKER_COUNT", 2),
		QueueSize:     getEnvInt("QUEUE_SIZE", 10000),
		BatchSize:     getEnvInt("BATCH_SIZE", 500),
		FlushInterval: getEnvDuration("FLUSH_INTERVAL", 1*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:8000")
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.DBName, err = getEnvRequired("DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBHost = getEnv("DB_HOST", "localhost")
	cfg.DBPort = getEnvInt("DB_PORT", 5432)

	return cfg, nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// PostgresURL assembles the pool connection string from the discrete
// DB_* settings.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBPoolMax)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
