// pkg/connector/warehouse.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/config"
)

// WarehouseConnector reads from the external market intelligence warehouse.
// The core never writes here; the monitor only queries sync freshness.
type WarehouseConnector struct {
	db     *sql.DB
	logger *zap.Logger
	cfg    *config.WarehouseConfig
}

// NewWarehouseConnector creates and initializes a new warehouse connector
func NewWarehouseConnector(ctx context.Context, cfg *config.WarehouseConfig, logger *zap.Logger) (*WarehouseConnector, error) {
	logger = logger.Named("warehouse-connector")

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to warehouse",
		zap.String("account", cfg.Account),
		zap.String("database", cfg.Database),
		zap.String("warehouse", cfg.Warehouse))

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize warehouse connection: %w", err)
	}

	// Health checks are infrequent point queries; keep the pool small.
	ApplyConnectionSettings(db, 2, 1, 10*time.Minute, 5*time.Minute)

	if err := PingWithTimeout(ctx, db, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	return &WarehouseConnector{
		db:     db,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// QueryRowWithTimeout runs a single-row query bounded by the configured
// query timeout and scans the result into dest.
func (c *WarehouseConnector) QueryRowWithTimeout(ctx context.Context, query string, dest ...any) error {
	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	return c.db.QueryRowContext(queryCtx, query).Scan(dest...)
}

// DB returns the underlying database connection
func (c *WarehouseConnector) DB() *sql.DB {
	return c.db
}

// Close closes the connection and releases resources
func (c *WarehouseConnector) Close() error {
	c.logger.Info("Closing warehouse connection")
	return c.db.Close()
}
