// pkg/ingest/validator.go
package ingest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scout-etl/edge-ingest/pkg/config"
)

// ValidationResult is the outcome of content validation. A payload is valid
// exactly when no issues were found; the score quantifies how far off it is.
type ValidationResult struct {
	IsValid      bool
	QualityScore float64
	Issues       []string
}

// Validator scores parsed transaction payloads against the content rules.
// Deduction weights come from the policy so operators can tune strictness
// without a redeploy.
type Validator struct {
	weights config.ValidatorWeights
}

// NewValidator builds a validator with the given deduction weights.
func NewValidator(weights config.ValidatorWeights) *Validator {
	return &Validator{weights: weights}
}

var requiredFields = []string{"transactionId", "storeId", "deviceId", "items", "totals"}

var requiredItemFields = []string{"brandName", "productName", "quantity", "unitPrice", "totalPrice"}

var requiredTotalsFields = []string{"totalAmount", "totalItems"}

// Validate checks one parsed payload. Adding issues never raises the score;
// a clean payload always scores 1.0.
func (v *Validator) Validate(payload map[string]any) ValidationResult {
	var issues []string
	deduction := 0.0

	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			issues = append(issues, fmt.Sprintf("missing required field: %s", field))
			deduction += v.weights.MissingRequiredField
		}
	}

	if raw, ok := payload["transactionId"]; ok {
		id, isStr := raw.(string)
		if !isStr || !isUUID(id) {
			issues = append(issues, "transactionId is not a valid UUID")
			deduction += v.weights.BadTransactionID
		}
	}

	if raw, ok := payload["deviceId"]; ok {
		id, isStr := raw.(string)
		if !isStr || !strings.HasPrefix(id, v.weights.DevicePrefix) {
			issues = append(issues, fmt.Sprintf("deviceId does not match convention %s*", v.weights.DevicePrefix))
			deduction += v.weights.BadDeviceID
		}
	}

	if raw, ok := payload["items"]; ok {
		items, isArr := raw.([]any)
		switch {
		case !isArr:
			issues = append(issues, "items is not an array")
			deduction += v.weights.ItemsNotArray
		case len(items) == 0:
			issues = append(issues, "items array is empty")
			deduction += v.weights.ItemsEmpty
		default:
			for i, rawItem := range items {
				item, isObj := rawItem.(map[string]any)
				if !isObj {
					issues = append(issues, fmt.Sprintf("item %d is not an object", i))
					deduction += v.weights.ItemNotObject
					continue
				}
				for _, field := range requiredItemFields {
					if _, ok := item[field]; !ok {
						issues = append(issues, fmt.Sprintf("item %d missing field: %s", i, field))
						deduction += v.weights.ItemMissingField
					}
				}
			}
		}
	}

	if raw, ok := payload["totals"]; ok {
		totals, isObj := raw.(map[string]any)
		if !isObj {
			issues = append(issues, "totals is not an object")
			deduction += v.weights.TotalsNotObject
		} else {
			for _, field := range requiredTotalsFields {
				if _, ok := totals[field]; !ok {
					issues = append(issues, fmt.Sprintf("totals missing field: %s", field))
					deduction += v.weights.TotalsMissingField
				}
			}
		}
	}

	if raw, ok := payload["brandDetection"]; ok {
		if _, isObj := raw.(map[string]any); !isObj {
			issues = append(issues, "brandDetection is malformed")
			deduction += v.weights.BadBrandDetection
		}
	}

	score := 1.0 - deduction
	if score < 0 {
		score = 0
	}

	return ValidationResult{
		IsValid:      len(issues) == 0,
		QualityScore: score,
		Issues:       issues,
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
