package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Sync    SyncConfig
	Metrics MetricsConfig
}

// SyncConfig controls the billing synchronization worker.
type SyncConfig struct {
	Enabled       bool
	Interval      time.Duration
	BatchSize     int
	RunTimeout    time.Duration
	ReporterURL   string
	ReporterToken string

	LockRedisAddr     string
	LockRedisPassword string
	LockRedisDB       int
	LockTTL           time.Duration
}

// MetricsConfig controls the OTLP metrics exporter.
type MetricsConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "meterd"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "meterd"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Sync: SyncConfig{
			Enabled:       getenvBool("SYNC_ENABLED", true),
			Interval:      getenvDuration("SYNC_INTERVAL", 5*time.Minute),
			BatchSize:     getenvInt("SYNC_BATCH_SIZE", 500),
			RunTimeout:    getenvDuration("SYNC_RUN_TIMEOUT", 2*time.Minute),
			ReporterURL:   strings.TrimSpace(getenv("SYNC_REPORTER_URL", "")),
			ReporterToken: strings.TrimSpace(getenv("SYNC_REPORTER_TOKEN", "")),

			LockRedisAddr:     strings.TrimSpace(getenv("SYNC_LOCK_REDIS_ADDR", "")),
			LockRedisPassword: strings.TrimSpace(getenv("SYNC_LOCK_REDIS_PASSWORD", "")),
			LockRedisDB:       getenvInt("SYNC_LOCK_REDIS_DB", 0),
			LockTTL:           getenvDuration("SYNC_LOCK_TTL", 4*time.Minute),
		},

		Metrics: MetricsConfig{
			Enabled:  getenvBool("METRICS_ENABLED", false),
			Exporter: strings.ToLower(getenv("METRICS_EXPORTER", "grpc")),
			Endpoint: strings.TrimSpace(getenv("METRICS_ENDPOINT", "localhost:4317")),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
