// Package config loads runtime settings from the environment, reading a
// .env file first when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by ODM_STORE
const (
	StoreMemory = "memory"
	StorePebble = "pebble"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

type Config struct {
	Store string

	// memory backend
	SnapshotFile     string
	SnapshotInterval time.Duration

	PebbleDir  string
	SQLitePath string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// MongoDB Configuration
	MongoURI        string
	MongoDB         string
	MongoCollection string

	KeyPrefix         string
	OpTimeout         time.Duration
	CASRetries        int
	CompressThreshold int
	Breaker           bool

	Port            string
	RateLimitReqs   int
	RateLimitWindow int
	LogLevel        string
	LogFormat       string

	// Tracing is off while TraceEndpoint is empty
	TraceEndpoint    string
	TraceSampleRatio float64
}

// Load reads .env (if it exists) and the environment
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Store:            strings.ToLower(getEnv("ODM_STORE", StoreMemory)),
		SnapshotFile:     getEnv("ODM_SNAPSHOT_FILE", ""),
		SnapshotInterval: getEnvDuration("ODM_SNAPSHOT_INTERVAL", 5*time.Minute),
		PebbleDir:        getEnv("ODM_PEBBLE_DIR", "./data/pebble"),
		SQLitePath:       getEnv("ODM_SQLITE_PATH", "./data/odm.db"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:         getEnv("MONGO_DB", "odm"),
		MongoCollection: getEnv("MONGO_COLLECTION", "kv"),

		KeyPrefix:         getEnv("ODM_KEY_PREFIX", ""),
		OpTimeout:         getEnvDuration("ODM_OP_TIMEOUT", 5*time.Second),
		CASRetries:        getEnvInt("ODM_CAS_RETRIES", 5),
		CompressThreshold: getEnvInt("ODM_COMPRESS_THRESHOLD", 1024),
		Breaker:           getEnvBool("ODM_BREAKER", false),

		Port:            getEnv("PORT", "8080"),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),

		TraceEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRatio: getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have a closed set of values
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePebble, StoreSQLite, StoreRedis, StoreMongo:
	default:
		return fmt.Errorf("ODM_STORE must be one of memory, pebble, sqlite, redis, mongo; got %q", c.Store)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("ODM_OP_TIMEOUT must be positive")
	}
	if c.CASRetries < 1 {
		return fmt.Errorf("ODM_CAS_RETRIES must be at least 1")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACE_SAMPLE_RATIO must be within [0, 1]")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		switch strings.ToLower(value) {
		case "on", "yes":
			return true
		case "off", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
