// pkg/store/canonical.go
package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// CanonicalStore manages Bronze rows in bronze.scout_edge_transactions.
// Transaction id is the business key; inserts are idempotent against it.
type CanonicalStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewCanonicalStore builds a CanonicalStore over an open connection pool.
func NewCanonicalStore(db *sqlx.DB, logger *zap.Logger) *CanonicalStore {
	return &CanonicalStore{db: db, logger: logger.Named("canonical-store")}
}

// Exists reports whether a transaction is already loaded.
func (s *CanonicalStore) Exists(ctx context.Context, transactionID string) (bool, error) {
	query, args, err := psql.Select("1").
		From("bronze.scout_edge_transactions").
		Where(sq.Eq{"transaction_id": transactionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = s.db.GetContext(ctx, &one, query, args...)
	if err == nil {
		return true, nil
	}
	if isNoRows(err) {
		return false, nil
	}
	return false, fmt.Errorf("check transaction %s: %w", transactionID, err)
}

// Insert loads one canonical row. Returns false without error when the
// transaction id already exists; a concurrent duplicate insert is a
// duplicate outcome, not a failure.
func (s *CanonicalStore) Insert(ctx context.Context, rec *domain.CanonicalRecord) (bool, error) {
	query, args, err := psql.Insert("bronze.scout_edge_transactions").
		Columns(
			"transaction_id", "store_id", "device_id", "transaction_timestamp",
			"items", "detected_brands", "transaction_context", "privacy_settings",
			"total_amount", "total_items",
			"branded_amount", "unbranded_amount", "unique_brands_count", "detected_brands_count",
			"duration_seconds", "payment_method", "time_of_day", "day_type", "audio_transcript",
			"audio_stored", "brand_analysis_only", "anonymization_level", "data_retention_days",
			"source_file", "edge_version", "ingested_at", "ingested_by",
		).
		Values(
			rec.TransactionID, rec.StoreID, rec.DeviceID, rec.TransactionTimestamp,
			rec.Items, rec.DetectedBrands, rec.TransactionContext, rec.PrivacySettings,
			rec.TotalAmount, rec.TotalItems,
			rec.BrandedAmount, rec.UnbrandedAmount, rec.UniqueBrandsCount, rec.DetectedBrandsCount,
			rec.DurationSeconds, rec.PaymentMethod, rec.TimeOfDay, rec.DayType, rec.AudioTranscript,
			rec.AudioStored, rec.BrandAnalysisOnly, rec.AnonymizationLevel, rec.DataRetentionDays,
			rec.SourceFile, rec.EdgeVersion, rec.IngestedAt, rec.IngestedBy,
		).
		Suffix("ON CONFLICT (transaction_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build canonical insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", rec.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: rows affected: %w", rec.TransactionID, err)
	}
	return n == 1, nil
}
