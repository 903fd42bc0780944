// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration
}

// WarehouseConfig holds connection parameters for the external market
// intelligence warehouse whose sync freshness the monitor observes.
type WarehouseConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator gosnowflake.AuthType

	QueryTimeout time.Duration
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return nil, errors.New("POSTGRES_USER environment variable is required")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
	}

	database := os.Getenv("POSTGRES_DB")
	if database == "" {
		return nil, errors.New("POSTGRES_DB environment variable is required")
	}

	cfg := &PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     getEnvAsInt("POSTGRES_PORT", 5432),
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  getEnv("POSTGRES_SSLMODE", "require"),

		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 600)) * time.Second,
		ConnMaxIdleTime: time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_TIME_SECONDS", 300)) * time.Second,

		StatementTimeout: time.Duration(getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_SECONDS", 60)) * time.Second,
	}

	return cfg, nil
}

// ConnectionString builds a lib/pq connection string.
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadWarehouseConfig loads warehouse configuration from environment variables
func LoadWarehouseConfig() (*WarehouseConfig, error) {
	user := os.Getenv("WAREHOUSE_USER")
	if user == "" {
		return nil, errors.New("WAREHOUSE_USER environment variable is required")
	}

	password := os.Getenv("WAREHOUSE_PASSWORD")
	if password == "" {
		return nil, errors.New("WAREHOUSE_PASSWORD environment variable is required")
	}

	account := os.Getenv("WAREHOUSE_ACCOUNT")
	if account == "" {
		return nil, errors.New("WAREHOUSE_ACCOUNT environment variable is required")
	}

	// Convert authenticator string to proper type
	var authenticator gosnowflake.AuthType
	switch getEnv("WAREHOUSE_AUTHENTICATOR", "snowflake") {
	case "oauth":
		authenticator = gosnowflake.AuthTypeOAuth
	case "externalbrowser":
		authenticator = gosnowflake.AuthTypeExternalBrowser
	case "jwt":
		authenticator = gosnowflake.AuthTypeJwt
	case "okta":
		authenticator = gosnowflake.AuthTypeOkta
	default:
		authenticator = gosnowflake.AuthTypeSnowflake
	}

	cfg := &WarehouseConfig{
		User:          user,
		Password:      password,
		Account:       account,
		Warehouse:     getEnv("WAREHOUSE_WAREHOUSE", "MARKET_WH"),
		Database:      getEnv("WAREHOUSE_DATABASE", "MARKET_INTEL"),
		Schema:        getEnv("WAREHOUSE_SCHEMA", "INTERACTIONS"),
		Role:          getEnv("WAREHOUSE_ROLE", ""),
		Authenticator: authenticator,
		QueryTimeout:  time.Duration(getEnvAsInt("WAREHOUSE_QUERY_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	return cfg, nil
}

// DSN builds a gosnowflake connection string.
func (c *WarehouseConfig) DSN() (string, error) {
	sfCfg := &gosnowflake.Config{
		User:          c.User,
		Password:      c.Password,
		Account:       c.Account,
		Warehouse:     c.Warehouse,
		Database:      c.Database,
		Schema:        c.Schema,
		Role:          c.Role,
		Authenticator: c.Authenticator,
	}

	dsn, err := gosnowflake.DSN(sfCfg)
	if err != nil {
		return "", fmt.Errorf("failed to build warehouse DSN: %w", err)
	}
	return dsn, nil
}
