// pkg/monitor/health.go
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/config"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/store"
)

// StatsSource supplies raw per-layer aggregates.
type StatsSource interface {
	LayerStats(ctx context.Context, layer domain.Layer, window time.Duration) (*store.LayerStats, error)
}

// WarehouseSource reports the external market warehouse. Optional; nil
// when no warehouse is configured.
type WarehouseSource interface {
	Stats(ctx context.Context) (*domain.WarehouseStatus, error)
}

// Evaluator recomputes the full pipeline health snapshot from current data.
// Snapshots are stateless; only the latest one matters.
type Evaluator struct {
	stats     StatsSource
	warehouse WarehouseSource
	policy    config.Policy
	window    time.Duration
	logger    *zap.Logger

	now func() time.Time
}

// NewEvaluator builds an evaluator. warehouse may be nil.
func NewEvaluator(stats StatsSource, warehouse WarehouseSource, policy config.Policy, window time.Duration, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		stats:     stats,
		warehouse: warehouse,
		policy:    policy,
		window:    window,
		logger:    logger.Named("evaluator"),
		now:       time.Now,
	}
}

// Evaluate builds one snapshot. Individual layer failures degrade that
// layer; they never fail the whole evaluation.
func (e *Evaluator) Evaluate(ctx context.Context) domain.PipelineMetrics {
	m := domain.PipelineMetrics{Timestamp: e.now().UTC()}

	m.Bronze = e.evaluateLayer(ctx, domain.LayerBronze)
	m.Silver = e.evaluateLayer(ctx, domain.LayerSilver)
	m.Gold = e.evaluateLayer(ctx, domain.LayerGold)
	m.Knowledge = e.evaluateLayer(ctx, domain.LayerKnowledge)

	if e.warehouse != nil {
		wh, err := e.warehouse.Stats(ctx)
		if err != nil {
			e.logger.Error("Warehouse check failed", zap.Error(err))
			wh = &domain.WarehouseStatus{
				Status: domain.LayerCritical,
				Error:  err.Error(),
			}
		}
		m.Warehouse = wh
	}

	m.OverallStatus = overallStatus(&m)
	return m
}

func (e *Evaluator) evaluateLayer(ctx context.Context, layer domain.Layer) domain.LayerHealth {
	rule := e.policy.SLA[string(layer)]

	health := domain.LayerHealth{Layer: layer}

	stats, err := e.stats.LayerStats(ctx, layer, e.window)
	if err != nil {
		e.logger.Error("Layer stats query failed",
			zap.String("layer", string(layer)),
			zap.Error(err))
		health.Status = domain.LayerCritical
		health.SLAStatus = domain.SLAViolated
		return health
	}

	health.RecordCount = stats.RecordCount
	health.LastUpdated = stats.LastUpdated
	health.QualityScore = stats.QualityScore
	health.ErrorCount = stats.ErrorCount

	if stats.LastUpdated != nil {
		health.FreshnessHours = e.now().UTC().Sub(stats.LastUpdated.UTC()).Hours()
	}

	if stats.RecordCount == 0 {
		if rule.RowsExpected {
			health.Status = domain.LayerCritical
			health.SLAStatus = domain.SLAViolated
		} else {
			health.Status = domain.LayerUnknown
			health.SLAStatus = domain.SLAMeeting
		}
		return health
	}

	freshOK := stats.LastUpdated != nil && health.FreshnessHours <= rule.FreshnessHours
	qualityOK := stats.QualityScore >= rule.MinQualityScore

	switch {
	case freshOK && qualityOK:
		health.Status = domain.LayerHealthy
		health.SLAStatus = domain.SLAMeeting
	case freshOK || qualityOK:
		health.Status = domain.LayerWarning
		health.SLAStatus = domain.SLAAtRisk
	default:
		health.Status = domain.LayerCritical
		health.SLAStatus = domain.SLAViolated
	}
	return health
}

// overallStatus is the worst status across layers and the warehouse.
func overallStatus(m *domain.PipelineMetrics) domain.LayerStatus {
	worst := domain.LayerHealthy
	for _, lh := range m.LayerHealths() {
		if lh.Status.Rank() > worst.Rank() {
			worst = lh.Status
		}
	}
	if m.Warehouse != nil && m.Warehouse.Status.Rank() > worst.Rank() {
		worst = m.Warehouse.Status
	}
	return worst
}
