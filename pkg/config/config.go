// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Stores
	Postgres  *PostgresConfig
	Warehouse *WarehouseConfig // optional external dependency, may be nil

	// Object storage
	Bucket BucketConfig

	// Ingestion pipeline
	Pipeline PipelineConfig

	// Health monitoring
	Monitor MonitorConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// BucketConfig describes the object store the coordinator scans.
type BucketConfig struct {
	BaseURL    string
	APIKey     string
	BucketName string
	PathPrefix string

	// Per-call timeouts: listing is a metadata lookup, downloads move bytes.
	ListTimeout     time.Duration
	DownloadTimeout time.Duration
}

// PipelineConfig holds the ingestion run settings.
type PipelineConfig struct {
	BatchSize          int
	MaxParallelWorkers int
	QualityThreshold   float64
	MaxRetryAttempts   int
	DiscoveryLimit     int
	JobTimeout         time.Duration

	ValidationEnabled    bool
	DeduplicationEnabled bool

	// Retry / circuit breaker shared by remote calls.
	RetryMaxAttempts        int
	RetryInitialDelay       time.Duration
	RetryBackoffFactor      float64
	RetryMaxDelay           time.Duration
	CircuitBreakerThreshold int
	CircuitRecoveryWindow   time.Duration
}

// MonitorConfig holds the health-check cycle settings.
type MonitorConfig struct {
	Interval       time.Duration
	TrailingWindow time.Duration
	ListenAddr     string
	SuppressWindow time.Duration
	PolicyFile     string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Bucket: BucketConfig{
			BaseURL:         getEnv("BUCKET_BASE_URL", ""),
			APIKey:          getEnv("BUCKET_API_KEY", ""),
			BucketName:      getEnv("BUCKET_NAME", "scout-ingest"),
			PathPrefix:      getEnv("BUCKET_PATH_PREFIX", "edge-transactions/"),
			ListTimeout:     time.Duration(getEnvAsInt("BUCKET_LIST_TIMEOUT_SECONDS", 15)) * time.Second,
			DownloadTimeout: time.Duration(getEnvAsInt("BUCKET_DOWNLOAD_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:            getEnvAsInt("BATCH_SIZE", 100),
			MaxParallelWorkers:   getEnvAsInt("MAX_PARALLEL_WORKERS", 5),
			QualityThreshold:     getEnvAsFloat("QUALITY_THRESHOLD", 0.7),
			MaxRetryAttempts:     getEnvAsInt("MAX_RETRY_ATTEMPTS", 3),
			DiscoveryLimit:       getEnvAsInt("DISCOVERY_LIMIT", 10000),
			JobTimeout:           time.Duration(getEnvAsInt("JOB_TIMEOUT_MINUTES", 120)) * time.Minute,
			ValidationEnabled:    getEnvAsBool("VALIDATION_ENABLED", true),
			DeduplicationEnabled: getEnvAsBool("DEDUPLICATION_ENABLED", true),

			RetryMaxAttempts:        getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay:       time.Duration(getEnvAsInt("RETRY_INITIAL_DELAY_MS", 1000)) * time.Millisecond,
			RetryBackoffFactor:      getEnvAsFloat("RETRY_BACKOFF_FACTOR", 2.0),
			RetryMaxDelay:           time.Duration(getEnvAsInt("RETRY_MAX_DELAY_SECONDS", 30)) * time.Second,
			CircuitBreakerThreshold: getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			CircuitRecoveryWindow:   time.Duration(getEnvAsInt("CIRCUIT_RECOVERY_SECONDS", 60)) * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:       time.Duration(getEnvAsInt("MONITOR_INTERVAL_SECONDS", 30)) * time.Second,
			TrailingWindow: time.Duration(getEnvAsInt("MONITOR_TRAILING_WINDOW_HOURS", 168)) * time.Hour,
			ListenAddr:     getEnv("MONITOR_LISTEN_ADDR", ":8080"),
			SuppressWindow: time.Duration(getEnvAsInt("ALERT_SUPPRESS_WINDOW_SECONDS", 300)) * time.Second,
			PolicyFile:     getEnv("PIPELINE_POLICY_FILE", ""),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	pgConfig, err := LoadPostgresConfig()
	if err != nil {
		return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
	}
	cfg.Postgres = pgConfig

	// Warehouse monitoring is optional; only wired when an account is set.
	if os.Getenv("WAREHOUSE_ACCOUNT") != "" {
		whConfig, err := LoadWarehouseConfig()
		if err != nil {
			return nil, errors.New("failed to load warehouse configuration: " + err.Error())
		}
		cfg.Warehouse = whConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Postgres == nil {
		return errors.New("postgreSQL configuration is required")
	}

	if c.Bucket.BucketName == "" {
		return errors.New("bucket name is required")
	}

	if c.Pipeline.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	if c.Pipeline.MaxParallelWorkers <= 0 {
		return errors.New("max parallel workers must be positive")
	}

	if c.Pipeline.QualityThreshold < 0 || c.Pipeline.QualityThreshold > 1 {
		return errors.New("quality threshold must be within [0,1]")
	}

	if c.Pipeline.MaxRetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	if c.Pipeline.RetryBackoffFactor < 1 {
		return errors.New("retry backoff factor must be at least 1")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(strings.ToLower(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}
