// pkg/monitor/warehouse.go
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// WarehouseProber is the query surface the warehouse check needs, satisfied
// by the warehouse connector.
type WarehouseProber interface {
	QueryRowWithTimeout(ctx context.Context, query string, dest ...any) error
}

// WarehouseCheck observes the market warehouse feed the downstream
// transforms join against. The warehouse itself is owned elsewhere; only
// sync freshness is our concern.
type WarehouseCheck struct {
	prober WarehouseProber
	logger *zap.Logger

	now func() time.Time
}

// NewWarehouseCheck builds a warehouse freshness check.
func NewWarehouseCheck(prober WarehouseProber, logger *zap.Logger) *WarehouseCheck {
	return &WarehouseCheck{
		prober: prober,
		logger: logger.Named("warehouse-check"),
		now:    time.Now,
	}
}

const warehouseQuery = `
	SELECT
		COUNT(*) AS total_records,
		MAX(SYNCED_AT) AS latest_record,
		COUNT(DISTINCT STORE_ID) AS active_stores,
		COUNT(DISTINCT DEVICE_ID) AS active_devices
	FROM MARKET.SCOUT_STORE_FEED`

// Stats queries the warehouse feed and grades its sync freshness.
func (c *WarehouseCheck) Stats(ctx context.Context) (*domain.WarehouseStatus, error) {
	var (
		total   int64
		latest  *time.Time
		stores  int
		devices int
	)
	if err := c.prober.QueryRowWithTimeout(ctx, warehouseQuery, &total, &latest, &stores, &devices); err != nil {
		return nil, fmt.Errorf("warehouse feed query: %w", err)
	}

	status := &domain.WarehouseStatus{
		TotalRecords:  total,
		LatestRecord:  latest,
		ActiveStores:  stores,
		ActiveDevices: devices,
	}

	if latest == nil {
		status.Status = domain.LayerCritical
		status.Error = "warehouse feed has no records"
		return status, nil
	}

	status.HoursSinceSync = c.now().UTC().Sub(latest.UTC()).Hours()
	switch {
	case status.HoursSinceSync <= 24:
		status.Status = domain.LayerHealthy
	case status.HoursSinceSync <= 48:
		status.Status = domain.LayerWarning
	default:
		status.Status = domain.LayerCritical
	}
	return status, nil
}
