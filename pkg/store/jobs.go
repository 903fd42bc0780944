// pkg/store/jobs.go
package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// JobStore persists coordinator runs in metadata.scout_processing_jobs.
type JobStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewJobStore builds a JobStore over an open connection pool.
func NewJobStore(db *sqlx.DB, logger *zap.Logger) *JobStore {
	return &JobStore{db: db, logger: logger.Named("job-store")}
}

// Create inserts a running job record and returns it.
func (s *JobStore) Create(ctx context.Context, name, configSnapshot string) (*domain.ProcessingJob, error) {
	job := &domain.ProcessingJob{
		ID:             uuid.New().String(),
		Name:           name,
		ConfigSnapshot: configSnapshot,
		Status:         domain.JobStatusRunning,
		StartedAt:      time.Now().UTC(),
		Phase:          "discovery",
	}

	query, args, err := psql.Insert("metadata.scout_processing_jobs").
		Columns("id", "job_name", "source_config", "status", "started_at", "current_phase").
		Values(job.ID, job.Name, job.ConfigSnapshot, job.Status, job.StartedAt, job.Phase).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("Created processing job",
		zap.String("job_id", job.ID),
		zap.String("job_name", name))
	return job, nil
}

// UpdateProgress persists the job's current counters and phase. Called
// after every batch so a crash loses at most one batch of progress.
func (s *JobStore) UpdateProgress(ctx context.Context, job *domain.ProcessingJob) error {
	query, args, err := psql.Update("metadata.scout_processing_jobs").
		Set("current_phase", job.Phase).
		Set("progress_percentage", job.Progress).
		Set("files_discovered", job.FilesDiscovered).
		Set("files_succeeded", job.FilesSucceeded).
		Set("files_failed", job.FilesFailed).
		Set("files_skipped", job.FilesSkipped).
		Set("files_duplicate", job.FilesDuplicate).
		Where(sq.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job progress update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update job %s progress: %w", job.ID, err)
	}
	return nil
}

// Close finalizes the job with its terminal status.
func (s *JobStore) Close(ctx context.Context, job *domain.ProcessingJob, status domain.JobStatus, lastErr error) error {
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now

	builder := psql.Update("metadata.scout_processing_jobs").
		Set("status", status).
		Set("completed_at", now).
		Set("current_phase", "done").
		Set("progress_percentage", job.Progress).
		Set("files_discovered", job.FilesDiscovered).
		Set("files_succeeded", job.FilesSucceeded).
		Set("files_failed", job.FilesFailed).
		Set("files_skipped", job.FilesSkipped).
		Set("files_duplicate", job.FilesDuplicate).
		Where(sq.Eq{"id": job.ID})

	if lastErr != nil {
		msg := truncateError(lastErr.Error())
		job.LastError = &msg
		builder = builder.Set("last_error", msg)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build job close: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("close job %s: %w", job.ID, err)
	}

	s.logger.Info("Closed processing job",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("files_processed", job.FilesProcessed()))
	return nil
}
