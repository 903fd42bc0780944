package domain

import "time"

// Layer identifies one stage of the medallion architecture.
type Layer string

const (
	LayerBronze    Layer = "Bronze"
	LayerSilver    Layer = "Silver"
	LayerGold      Layer = "Gold"
	LayerKnowledge Layer = "Knowledge"
)

// Layers lists the monitored layers in pipeline order.
func Layers() []Layer {
	return []Layer{LayerBronze, LayerSilver, LayerGold, LayerKnowledge}
}

// LayerHealth is the health snapshot of one layer. It is recomputed every
// cycle from current data; only the latest snapshot exists.
type LayerHealth struct {
	Layer          Layer       `json:"layer"`
	Status         LayerStatus `json:"status"`
	RecordCount    int64       `json:"record_count"`
	LastUpdated    *time.Time  `json:"last_updated"`
	FreshnessHours float64     `json:"data_freshness_hours"`
	QualityScore   float64     `json:"quality_score"`
	ErrorCount     int         `json:"error_count"`
	SLAStatus      SLAStatus   `json:"sla_status"`
}

// WarehouseStatus reports the external market-intelligence warehouse the
// Silver/Gold transforms read from. The warehouse itself is out of scope;
// only its sync freshness is observed.
type WarehouseStatus struct {
	Status         LayerStatus `json:"status"`
	TotalRecords   int64       `json:"total_records"`
	LatestRecord   *time.Time  `json:"latest_record"`
	ActiveStores   int         `json:"active_stores"`
	ActiveDevices  int         `json:"active_devices"`
	HoursSinceSync float64     `json:"hours_since_last_sync"`
	Error          string      `json:"error,omitempty"`
}

// Alert is one actionable finding from a health cycle.
type Alert struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SLAStatus SLAStatus      `json:"sla_status"`
}

// PipelineMetrics is the full health snapshot pushed to subscribers and
// served from the query API.
type PipelineMetrics struct {
	Timestamp     time.Time        `json:"timestamp"`
	Bronze        LayerHealth      `json:"bronze_layer"`
	Silver        LayerHealth      `json:"silver_layer"`
	Gold          LayerHealth      `json:"gold_layer"`
	Knowledge     LayerHealth      `json:"knowledge_layer"`
	Warehouse     *WarehouseStatus `json:"warehouse,omitempty"`
	OverallStatus LayerStatus      `json:"overall_status"`
	Alerts        []Alert          `json:"alerts"`
}

// LayerHealths returns the per-layer blocks in pipeline order.
func (m *PipelineMetrics) LayerHealths() []LayerHealth {
	return []LayerHealth{m.Bronze, m.Silver, m.Gold, m.Knowledge}
}
