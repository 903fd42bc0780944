// pkg/monitor/alerts.go
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// Generate derives alerts from one snapshot: one per WARNING or CRITICAL
// layer and one per degraded external dependency, severity mirroring the
// status. Output is deterministic apart from ids and timestamps.
func Generate(m domain.PipelineMetrics) []domain.Alert {
	var alerts []domain.Alert

	for _, lh := range m.LayerHealths() {
		switch lh.Status {
		case domain.LayerWarning:
			alerts = append(alerts, layerAlert(lh, domain.SeverityWarning, m.Timestamp))
		case domain.LayerCritical:
			alerts = append(alerts, layerAlert(lh, domain.SeverityCritical, m.Timestamp))
		}
	}

	if m.Warehouse != nil {
		switch m.Warehouse.Status {
		case domain.LayerWarning:
			alerts = append(alerts, warehouseAlert(m, domain.SeverityWarning, domain.SLAAtRisk))
		case domain.LayerCritical:
			alerts = append(alerts, warehouseAlert(m, domain.SeverityCritical, domain.SLAViolated))
		}
	}

	return alerts
}

func warehouseAlert(m domain.PipelineMetrics, severity domain.Severity, sla domain.SLAStatus) domain.Alert {
	msg := fmt.Sprintf("market warehouse feed is stale: %.1f hours since last sync", m.Warehouse.HoursSinceSync)
	if m.Warehouse.Error != "" {
		msg = fmt.Sprintf("market warehouse check failed: %s", m.Warehouse.Error)
	}
	return domain.Alert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Component: "warehouse",
		Message:   msg,
		Timestamp: m.Timestamp,
		SLAStatus: sla,
		Details: map[string]any{
			"hours_since_sync": m.Warehouse.HoursSinceSync,
			"total_records":    m.Warehouse.TotalRecords,
		},
	}
}

func layerAlert(lh domain.LayerHealth, severity domain.Severity, ts time.Time) domain.Alert {
	return domain.Alert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Component: string(lh.Layer),
		Message: fmt.Sprintf("%s layer is %s: freshness %.1fh, quality %.1f, %d errors",
			lh.Layer, lh.Status, lh.FreshnessHours, lh.QualityScore, lh.ErrorCount),
		Timestamp: ts,
		SLAStatus: lh.SLAStatus,
		Details: map[string]any{
			"record_count":         lh.RecordCount,
			"data_freshness_hours": lh.FreshnessHours,
			"quality_score":        lh.QualityScore,
			"error_count":          lh.ErrorCount,
		},
	}
}

type emission struct {
	severity domain.Severity
	at       time.Time
}

// Suppressor dedupes repeated alerts across consecutive cycles. An alert
// for the same component and severity is swallowed until the window
// expires; a severity escalation always passes through immediately.
type Suppressor struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]emission

	now func() time.Time
}

// NewSuppressor builds a suppressor with the given re-emission window.
func NewSuppressor(window time.Duration) *Suppressor {
	return &Suppressor{
		window: window,
		seen:   make(map[string]emission),
		now:    time.Now,
	}
}

// Filter returns the alerts that should actually be emitted this cycle and
// records them. Components that stopped alerting are forgotten so their
// next alert fires fresh.
func (s *Suppressor) Filter(alerts []domain.Alert) []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	active := make(map[string]bool, len(alerts))

	var out []domain.Alert
	for _, a := range alerts {
		active[a.Component] = true

		prev, ok := s.seen[a.Component]
		escalated := ok && prev.severity == domain.SeverityWarning && a.Severity == domain.SeverityCritical
		expired := !ok || now.Sub(prev.at) >= s.window || prev.severity != a.Severity

		if escalated || expired {
			s.seen[a.Component] = emission{severity: a.Severity, at: now}
			out = append(out, a)
		}
	}

	for component := range s.seen {
		if !active[component] {
			delete(s.seen, component)
		}
	}
	return out
}
