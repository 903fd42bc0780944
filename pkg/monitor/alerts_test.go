// pkg/monitor/alerts_test.go
package monitor

import (
	"testing"
	"time"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

func snapshotWith(bronze, silver domain.LayerStatus) domain.PipelineMetrics {
	m := domain.PipelineMetrics{
		Timestamp: time.Now().UTC(),
		Bronze:    domain.LayerHealth{Layer: domain.LayerBronze, Status: bronze, SLAStatus: domain.SLAMeeting},
		Silver:    domain.LayerHealth{Layer: domain.LayerSilver, Status: silver, SLAStatus: domain.SLAMeeting},
		Gold:      domain.LayerHealth{Layer: domain.LayerGold, Status: domain.LayerHealthy, SLAStatus: domain.SLAMeeting},
		Knowledge: domain.LayerHealth{Layer: domain.LayerKnowledge, Status: domain.LayerHealthy, SLAStatus: domain.SLAMeeting},
	}
	if bronze != domain.LayerHealthy {
		m.Bronze.SLAStatus = domain.SLAViolated
	}
	if silver != domain.LayerHealthy {
		m.Silver.SLAStatus = domain.SLAAtRisk
	}
	return m
}

func TestGenerateNoAlertsWhenHealthy(t *testing.T) {
	alerts := Generate(snapshotWith(domain.LayerHealthy, domain.LayerHealthy))
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestGenerateOnePerUnhealthyLayer(t *testing.T) {
	alerts := Generate(snapshotWith(domain.LayerCritical, domain.LayerWarning))
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}

	bySeverity := map[domain.Severity]string{}
	for _, a := range alerts {
		bySeverity[a.Severity] = a.Component
	}
	if bySeverity[domain.SeverityCritical] != "Bronze" {
		t.Errorf("critical alert component = %s, want Bronze", bySeverity[domain.SeverityCritical])
	}
	if bySeverity[domain.SeverityWarning] != "Silver" {
		t.Errorf("warning alert component = %s, want Silver", bySeverity[domain.SeverityWarning])
	}
}

// Determinism modulo id and timestamp: same snapshot, same alerts.
func TestGenerateDeterministic(t *testing.T) {
	m := snapshotWith(domain.LayerCritical, domain.LayerWarning)
	first := Generate(m)
	second := Generate(m)

	if len(first) != len(second) {
		t.Fatalf("alert counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Component != second[i].Component ||
			first[i].Severity != second[i].Severity ||
			first[i].Message != second[i].Message {
			t.Errorf("alert %d differs beyond id/timestamp", i)
		}
	}
}

func TestGenerateWarehouseAlert(t *testing.T) {
	m := snapshotWith(domain.LayerHealthy, domain.LayerHealthy)
	m.Warehouse = &domain.WarehouseStatus{
		Status:         domain.LayerCritical,
		HoursSinceSync: 72,
	}

	alerts := Generate(m)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Component != "warehouse" {
		t.Errorf("component = %s, want warehouse", alerts[0].Component)
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", alerts[0].Severity)
	}
}

func TestGenerateWarehouseWarningMirrorsStatus(t *testing.T) {
	m := snapshotWith(domain.LayerHealthy, domain.LayerHealthy)
	m.Warehouse = &domain.WarehouseStatus{
		Status:         domain.LayerWarning,
		HoursSinceSync: 36,
	}

	alerts := Generate(m)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Component != "warehouse" {
		t.Errorf("component = %s, want warehouse", alerts[0].Component)
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Errorf("severity = %s, want WARNING", alerts[0].Severity)
	}
	if alerts[0].SLAStatus != domain.SLAAtRisk {
		t.Errorf("sla status = %s, want AT_RISK", alerts[0].SLAStatus)
	}
}

func alert(component string, severity domain.Severity) domain.Alert {
	return domain.Alert{Component: component, Severity: severity}
}

func TestSuppressorSwallowsRepeats(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	first := s.Filter([]domain.Alert{alert("Bronze", domain.SeverityWarning)})
	if len(first) != 1 {
		t.Fatalf("first cycle should emit, got %d", len(first))
	}

	base = base.Add(30 * time.Second)
	second := s.Filter([]domain.Alert{alert("Bronze", domain.SeverityWarning)})
	if len(second) != 0 {
		t.Fatalf("repeat within window should be suppressed, got %d", len(second))
	}

	base = base.Add(5 * time.Minute)
	third := s.Filter([]domain.Alert{alert("Bronze", domain.SeverityWarning)})
	if len(third) != 1 {
		t.Fatalf("repeat after window should re-emit, got %d", len(third))
	}
}

func TestSuppressorEscalationPassesThrough(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Filter([]domain.Alert{alert("Silver", domain.SeverityWarning)})

	base = base.Add(10 * time.Second)
	out := s.Filter([]domain.Alert{alert("Silver", domain.SeverityCritical)})
	if len(out) != 1 {
		t.Fatalf("escalation should emit immediately, got %d", len(out))
	}
}

func TestSuppressorResetsAfterRecovery(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Filter([]domain.Alert{alert("Gold", domain.SeverityWarning)})

	// Component recovered: no alert this cycle.
	base = base.Add(time.Minute)
	s.Filter(nil)

	// It degrades again right away: fires fresh despite the window.
	base = base.Add(time.Minute)
	out := s.Filter([]domain.Alert{alert("Gold", domain.SeverityWarning)})
	if len(out) != 1 {
		t.Fatalf("alert after recovery should emit, got %d", len(out))
	}
}
