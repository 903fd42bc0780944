// pkg/ingest/loader.go
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// CanonicalWriter is the Bronze repository surface the loader needs.
type CanonicalWriter interface {
	Exists(ctx context.Context, transactionID string) (bool, error)
	Insert(ctx context.Context, rec *domain.CanonicalRecord) (bool, error)
}

const ingestedByTag = "edge-ingest"

// Loader flattens validated payloads into canonical Bronze rows.
type Loader struct {
	canonical CanonicalWriter
	logger    *zap.Logger
}

// NewLoader builds a loader over the Bronze repository.
func NewLoader(canonical CanonicalWriter, logger *zap.Logger) *Loader {
	return &Loader{canonical: canonical, logger: logger.Named("loader")}
}

// Load transforms the payload and inserts it idempotently. Returns the
// canonical row and whether a new row was written; false with nil error
// means the transaction was already loaded.
func (l *Loader) Load(ctx context.Context, payload map[string]any, sourceFile string) (*domain.CanonicalRecord, bool, error) {
	rec, err := Transform(payload, sourceFile)
	if err != nil {
		return nil, false, err
	}

	inserted, err := l.canonical.Insert(ctx, rec)
	if err != nil {
		return rec, false, Transient("canonical insert", err)
	}
	if !inserted {
		l.logger.Debug("Transaction already loaded",
			zap.String("transaction_id", rec.TransactionID),
			zap.String("source_file", sourceFile))
	}
	return rec, inserted, nil
}

// Transform flattens one parsed payload into a canonical record. The raw
// substructures survive as JSONB for the Silver transform to re-read.
func Transform(payload map[string]any, sourceFile string) (*domain.CanonicalRecord, error) {
	transactionID := getString(payload, "transactionId")
	if transactionID == "" {
		return nil, fmt.Errorf("payload has no transactionId")
	}

	rec := &domain.CanonicalRecord{
		TransactionID:        transactionID,
		StoreID:              getString(payload, "storeId"),
		DeviceID:             getString(payload, "deviceId"),
		TransactionTimestamp: parseTimestamp(getString(payload, "timestamp")),
		EdgeVersion:          getString(payload, "edgeVersion"),
		SourceFile:           sourceFile,
		IngestedAt:           time.Now().UTC(),
		IngestedBy:           ingestedByTag,
	}

	if items, ok := payload["items"]; ok {
		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode items: %w", err)
		}
		rec.Items = data
	}

	if totals, ok := payload["totals"].(map[string]any); ok {
		rec.TotalAmount = getFloat(totals, "totalAmount")
		rec.TotalItems = getInt(totals, "totalItems")
		rec.BrandedAmount = getFloat(totals, "brandedAmount")
		rec.UnbrandedAmount = getFloat(totals, "unbrandedAmount")
		rec.UniqueBrandsCount = getInt(totals, "uniqueBrandsCount")
	}

	if bd, ok := payload["brandDetection"].(map[string]any); ok {
		if brands, ok := bd["detectedBrands"].(map[string]any); ok {
			rec.DetectedBrandsCount = len(brands)
			data, err := json.Marshal(brands)
			if err != nil {
				return nil, fmt.Errorf("encode detected brands: %w", err)
			}
			rec.DetectedBrands = data
		}
	}

	if tc, ok := payload["transactionContext"].(map[string]any); ok {
		data, err := json.Marshal(tc)
		if err != nil {
			return nil, fmt.Errorf("encode transaction context: %w", err)
		}
		rec.TransactionContext = data

		rec.DurationSeconds = optFloat(tc, "duration")
		rec.PaymentMethod = optString(tc, "paymentMethod")
		rec.TimeOfDay = optString(tc, "timeOfDay")
		rec.DayType = optString(tc, "dayType")
		rec.AudioTranscript = optString(tc, "audioTranscript")
	}

	if pr, ok := payload["privacy"].(map[string]any); ok {
		data, err := json.Marshal(pr)
		if err != nil {
			return nil, fmt.Errorf("encode privacy settings: %w", err)
		}
		rec.PrivacySettings = data

		rec.AudioStored = getBool(pr, "audioStored")
		rec.BrandAnalysisOnly = getString(pr, "processingMode") == "brand_detection_only"
		rec.AnonymizationLevel = getString(pr, "anonymizationLevel")
		rec.DataRetentionDays = getInt(pr, "dataRetentionDays")
	}

	return rec, nil
}

// Metadata derives the file-record metadata from a transformed row.
func Metadata(rec *domain.CanonicalRecord, hasAudio bool) domain.EdgeMetadata {
	return domain.EdgeMetadata{
		TransactionID:       rec.TransactionID,
		StoreID:             rec.StoreID,
		DeviceID:            rec.DeviceID,
		ItemCount:           rec.TotalItems,
		TotalAmount:         rec.TotalAmount,
		BrandedAmount:       rec.BrandedAmount,
		UnbrandedAmount:     rec.UnbrandedAmount,
		UniqueBrandsCount:   rec.UniqueBrandsCount,
		HasBrandDetection:   rec.DetectedBrandsCount > 0,
		DetectedBrandsCount: rec.DetectedBrandsCount,
		HasAudioTranscript:  hasAudio,
		EdgeVersion:         rec.EdgeVersion,
		PrivacyCompliant:    rec.AnonymizationLevel != "",
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func optString(m map[string]any, key string) *string {
	if v, ok := m[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func optFloat(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
