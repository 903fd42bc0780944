// pkg/store/quarantine.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// QuarantineStore preserves failed payloads in metadata.scout_quarantine for
// forensic replay. Rows are never mutated.
type QuarantineStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewQuarantineStore builds a QuarantineStore over an open connection pool.
func NewQuarantineStore(db *sqlx.DB, logger *zap.Logger) *QuarantineStore {
	return &QuarantineStore{db: db, logger: logger.Named("quarantine-store")}
}

// Add stores the raw content of a failed file with its error category.
func (s *QuarantineStore) Add(ctx context.Context, rec *domain.QuarantineRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query, args, err := psql.Insert("metadata.scout_quarantine").
		Columns("source_bucket", "source_file", "file_id", "error_type",
			"error_message", "raw_content", "created_at").
		Values(rec.SourceBucket, rec.SourceFile, rec.FileID, rec.Category,
			truncateError(rec.ErrorMessage), rec.RawContent, rec.CreatedAt).
		Suffix("RETURNING quarantine_id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build quarantine insert: %w", err)
	}

	if err := s.db.GetContext(ctx, &rec.ID, query, args...); err != nil {
		return fmt.Errorf("quarantine file %s: %w", rec.SourceFile, err)
	}

	s.logger.Warn("File quarantined",
		zap.Int64("quarantine_id", rec.ID),
		zap.String("file", rec.SourceFile),
		zap.String("category", string(rec.Category)))
	return nil
}

// Get fetches one quarantined record by id.
func (s *QuarantineStore) Get(ctx context.Context, id int64) (*domain.QuarantineRecord, error) {
	query, args, err := psql.Select("quarantine_id", "source_bucket", "source_file",
		"file_id", "error_type", "error_message", "raw_content", "created_at").
		From("metadata.scout_quarantine").
		Where(sq.Eq{"quarantine_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build quarantine get: %w", err)
	}

	var rec domain.QuarantineRecord
	if err := s.db.GetContext(ctx, &rec, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("quarantine record %d not found", id)
		}
		return nil, fmt.Errorf("get quarantine record %d: %w", id, err)
	}
	return &rec, nil
}

// Recent lists the latest quarantined records, newest first.
func (s *QuarantineStore) Recent(ctx context.Context, limit int) ([]domain.QuarantineRecord, error) {
	query, args, err := psql.Select("quarantine_id", "source_bucket", "source_file",
		"file_id", "error_type", "error_message", "raw_content", "created_at").
		From("metadata.scout_quarantine").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build quarantine list: %w", err)
	}

	var recs []domain.QuarantineRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list quarantine records: %w", err)
	}
	return recs, nil
}
