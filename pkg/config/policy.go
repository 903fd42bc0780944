// pkg/config/policy.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy carries the tunable quality and SLA knobs that operators adjust
// without redeploying: validator deduction weights and per-layer SLA targets.
type Policy struct {
	Validator ValidatorWeights   `yaml:"validator"`
	SLA       map[string]SLARule `yaml:"sla"`
}

// ValidatorWeights are the score deductions applied per validation issue.
// Zero issues must always score 1.0; more issues must never raise the score.
type ValidatorWeights struct {
	MissingRequiredField float64 `yaml:"missingRequiredField"`
	BadTransactionID     float64 `yaml:"badTransactionId"`
	BadDeviceID          float64 `yaml:"badDeviceId"`
	ItemsNotArray        float64 `yaml:"itemsNotArray"`
	ItemsEmpty           float64 `yaml:"itemsEmpty"`
	ItemNotObject        float64 `yaml:"itemNotObject"`
	ItemMissingField     float64 `yaml:"itemMissingField"`
	TotalsNotObject      float64 `yaml:"totalsNotObject"`
	TotalsMissingField   float64 `yaml:"totalsMissingField"`
	BadBrandDetection    float64 `yaml:"badBrandDetection"`

	// DevicePrefix is the expected device naming convention.
	DevicePrefix string `yaml:"devicePrefix"`
}

// SLARule is one layer's service-level target.
type SLARule struct {
	FreshnessHours  float64 `yaml:"freshnessHours"`
	MinQualityScore float64 `yaml:"minQualityScore"`
	RowsExpected    bool    `yaml:"rowsExpected"`
}

// DefaultPolicy returns the built-in deduction weights and SLA targets.
func DefaultPolicy() Policy {
	return Policy{
		Validator: ValidatorWeights{
			MissingRequiredField: 0.20,
			BadTransactionID:     0.10,
			BadDeviceID:          0.10,
			ItemsNotArray:        0.20,
			ItemsEmpty:           0.10,
			ItemNotObject:        0.05,
			ItemMissingField:     0.02,
			TotalsNotObject:      0.10,
			TotalsMissingField:   0.05,
			BadBrandDetection:    0.05,
			DevicePrefix:         "SCOUTPI-",
		},
		SLA: map[string]SLARule{
			"Bronze":    {FreshnessHours: 24, MinQualityScore: 95.0, RowsExpected: true},
			"Silver":    {FreshnessHours: 4, MinQualityScore: 95.0, RowsExpected: true},
			"Gold":      {FreshnessHours: 24, MinQualityScore: 90.0, RowsExpected: true},
			"Knowledge": {FreshnessHours: 2, MinQualityScore: 90.0, RowsExpected: false},
		},
	}
}

// LoadPolicy reads a yaml policy file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy file: %w", err)
	}

	for layer, rule := range policy.SLA {
		if rule.FreshnessHours <= 0 {
			return policy, fmt.Errorf("policy sla for %s: freshnessHours must be positive", layer)
		}
	}

	return policy, nil
}
