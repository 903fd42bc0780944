// pkg/store/files.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// FileStore manages the bucket file ledger in metadata.scout_bucket_files.
type FileStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewFileStore builds a FileStore over an open connection pool.
func NewFileStore(db *sqlx.DB, logger *zap.Logger) *FileStore {
	return &FileStore{db: db, logger: logger.Named("file-store")}
}

// Register records bucket objects in the ledger as pending. Files already
// registered keep their existing row and status untouched.
func (s *FileStore) Register(ctx context.Context, bucketName, sourceType string, refs []bucket.FileRef) (int, error) {
	registered := 0
	for _, ref := range refs {
		query, args, err := psql.Insert("metadata.scout_bucket_files").
			Columns("id", "bucket_name", "file_path", "file_name", "file_size",
				"source_type", "uploaded_at", "processing_status").
			Values(uuid.New().String(), bucketName, ref.Path, ref.Name, ref.Size,
				sourceType, ref.UpdatedAt, domain.FileStatusPending).
			Suffix("ON CONFLICT (bucket_name, file_path) DO NOTHING").
			ToSql()
		if err != nil {
			return registered, fmt.Errorf("build register query: %w", err)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return registered, fmt.Errorf("register file %s: %w", ref.Path, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			registered++
		}
	}

	if registered > 0 {
		s.logger.Info("Registered new bucket files",
			zap.String("bucket", bucketName),
			zap.Int("new_files", registered),
			zap.Int("listed", len(refs)))
	}
	return registered, nil
}

// Discover returns files eligible for processing: pending or failed below
// the retry ceiling, oldest uploads first.
func (s *FileStore) Discover(ctx context.Context, maxRetries, limit int) ([]domain.BucketFileRecord, error) {
	query, args, err := psql.Select(
		"id", "bucket_name", "file_path", "file_name", "file_size", "file_hash",
		"source_type", "uploaded_at", "processing_status", "retry_count",
		"last_error", "quality_score", "device_id", "store_id", "item_count",
		"updated_at").
		From("metadata.scout_bucket_files").
		Where(sq.Or{
			sq.Eq{"processing_status": domain.FileStatusPending},
			sq.And{
				sq.Eq{"processing_status": domain.FileStatusFailed},
				sq.Lt{"retry_count": maxRetries},
			},
		}).
		OrderBy("uploaded_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build discovery query: %w", err)
	}

	var files []domain.BucketFileRecord
	if err := s.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	return files, nil
}

// Claim atomically moves a file to processing. Returns false when another
// worker already claimed it or the row moved to a terminal state.
func (s *FileStore) Claim(ctx context.Context, fileID string) (bool, error) {
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", domain.FileStatusProcessing).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": fileID}).
		Where(sq.Eq{"processing_status": []domain.FileStatus{
			domain.FileStatusPending, domain.FileStatusFailed,
		}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim file %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim file %s: rows affected: %w", fileID, err)
	}
	return n == 1, nil
}

// Release returns a claimed file to pending without touching the retry
// counter. Used when processing was deferred rather than failed.
func (s *FileStore) Release(ctx context.Context, fileID string) error {
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", domain.FileStatusPending).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": fileID}).
		Where(sq.Eq{"processing_status": domain.FileStatusProcessing}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release file %s: %w", fileID, err)
	}
	return nil
}

// MarkCompleted finalizes a successfully loaded file with its quality score
// and the metadata extracted from the payload.
func (s *FileStore) MarkCompleted(ctx context.Context, fileID string, qualityScore float64, meta domain.EdgeMetadata) error {
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", domain.FileStatusCompleted).
		Set("quality_score", qualityScore).
		Set("device_id", meta.DeviceID).
		Set("store_id", meta.StoreID).
		Set("item_count", meta.ItemCount).
		Set("last_error", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build completion query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark file %s completed: %w", fileID, err)
	}
	return nil
}

// MarkFailed records a failure and bumps the retry counter so the file
// becomes eligible again until the ceiling is reached.
func (s *FileStore) MarkFailed(ctx context.Context, fileID, errMsg string) error {
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", domain.FileStatusFailed).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", truncateError(errMsg)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build failure query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark file %s failed: %w", fileID, err)
	}
	return nil
}

// MarkDuplicate finalizes a file whose transaction already exists in Bronze.
func (s *FileStore) MarkDuplicate(ctx context.Context, fileID, transactionID string) error {
	return s.markTerminal(ctx, fileID, domain.FileStatusDuplicate,
		fmt.Sprintf("transaction %s already loaded", transactionID))
}

// MarkSkipped finalizes a file rejected below the quality threshold.
func (s *FileStore) MarkSkipped(ctx context.Context, fileID, reason string) error {
	return s.markTerminal(ctx, fileID, domain.FileStatusSkipped, reason)
}

func (s *FileStore) markTerminal(ctx context.Context, fileID string, status domain.FileStatus, note string) error {
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", status).
		Set("last_error", truncateError(note)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark file %s %s: %w", fileID, status, err)
	}
	return nil
}

// Get fetches one file record by id.
func (s *FileStore) Get(ctx context.Context, fileID string) (*domain.BucketFileRecord, error) {
	query, args, err := psql.Select(
		"id", "bucket_name", "file_path", "file_name", "file_size", "file_hash",
		"source_type", "uploaded_at", "processing_status", "retry_count",
		"last_error", "quality_score", "device_id", "store_id", "item_count",
		"updated_at").
		From("metadata.scout_bucket_files").
		Where(sq.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var rec domain.BucketFileRecord
	if err := s.db.GetContext(ctx, &rec, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("file %s not found", fileID)
		}
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return &rec, nil
}

// ResetStale returns files stuck in processing longer than maxAge back to
// pending. Covers crashed coordinators that never released their claims.
func (s *FileStore) ResetStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	query, args, err := psql.Update("metadata.scout_bucket_files").
		Set("processing_status", domain.FileStatusPending).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"processing_status": domain.FileStatusProcessing}).
		Where(sq.Lt{"updated_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build stale reset query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Reset stale processing claims", zap.Int64("files", n))
	}
	return n, nil
}

// Postgres text columns have no length problem, but pathological payloads
// have produced megabyte error strings before. Keep the ledger readable.
func truncateError(msg string) string {
	const maxLen = 2000
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
