// pkg/ingest/coordinator.go
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/config"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/resilience"
)

const jobName = "bucket_to_bronze"

// FileCatalog is the discovery surface of the file ledger.
type FileCatalog interface {
	Register(ctx context.Context, bucketName, sourceType string, refs []bucket.FileRef) (int, error)
	Discover(ctx context.Context, maxRetries, limit int) ([]domain.BucketFileRecord, error)
}

// JobLedger persists coordinator runs.
type JobLedger interface {
	Create(ctx context.Context, name, configSnapshot string) (*domain.ProcessingJob, error)
	UpdateProgress(ctx context.Context, job *domain.ProcessingJob) error
	Close(ctx context.Context, job *domain.ProcessingJob, status domain.JobStatus, lastErr error) error
}

// RunObserver receives operational signals from a run. The prometheus
// collector implements it; tests use a no-op.
type RunObserver interface {
	ObserveOutcome(kind OutcomeKind)
	ObserveBatchDuration(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(OutcomeKind)         {}
func (nopObserver) ObserveBatchDuration(time.Duration) {}

// Coordinator runs one full ingestion pass: list the bucket, register new
// files, discover eligible work, and drive it through the processor in
// bounded parallel batches.
type Coordinator struct {
	bucketCfg config.BucketConfig
	pipeline  config.PipelineConfig

	objects   bucket.ObjectStore
	catalog   FileCatalog
	jobs      JobLedger
	processor *Processor
	retrier   *resilience.Retrier
	observer  RunObserver
	logger    *zap.Logger
}

// NewCoordinator wires a coordinator. A nil observer is replaced with a
// no-op.
func NewCoordinator(
	bucketCfg config.BucketConfig,
	pipeline config.PipelineConfig,
	objects bucket.ObjectStore,
	catalog FileCatalog,
	jobs JobLedger,
	processor *Processor,
	retrier *resilience.Retrier,
	observer RunObserver,
	logger *zap.Logger,
) *Coordinator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Coordinator{
		bucketCfg: bucketCfg,
		pipeline:  pipeline,
		objects:   objects,
		catalog:   catalog,
		jobs:      jobs,
		processor: processor,
		retrier:   retrier,
		observer:  observer,
		logger:    logger.Named("coordinator"),
	}
}

// Run executes one ingestion job. Per-file failures never abort the run;
// only setup errors or the job timeout close the job as failed. The job
// record is returned even on failure so callers can report partial counters.
func (c *Coordinator) Run(ctx context.Context) (*domain.ProcessingJob, error) {
	snapshot, _ := json.Marshal(map[string]any{
		"bucket":               c.bucketCfg.BucketName,
		"path_prefix":          c.bucketCfg.PathPrefix,
		"batch_size":           c.pipeline.BatchSize,
		"max_parallel_workers": c.pipeline.MaxParallelWorkers,
		"quality_threshold":    c.pipeline.QualityThreshold,
		"max_retry_attempts":   c.pipeline.MaxRetryAttempts,
	})

	job, err := c.jobs.Create(ctx, jobName, string(snapshot))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if c.pipeline.JobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.pipeline.JobTimeout)
		defer cancel()
	}

	files, err := c.discover(runCtx, job)
	if err != nil {
		closeErr := c.jobs.Close(ctx, job, domain.JobStatusFailed, err)
		if closeErr != nil {
			c.logger.Error("Failed to close job", zap.Error(closeErr))
		}
		return job, err
	}

	if len(files) == 0 {
		c.logger.Info("No eligible files", zap.String("job_id", job.ID))
		return job, c.jobs.Close(ctx, job, domain.JobStatusCompleted, nil)
	}

	job.Phase = "processing"
	runErr := c.processAll(runCtx, job, files)

	status := domain.JobStatusCompleted
	switch {
	case runErr != nil:
		status = domain.JobStatusFailed
	case job.FilesFailed > 0:
		status = domain.JobStatusCompletedWithErrors
	}

	// Close against the parent context: a job timeout must not prevent
	// persisting the partial counters.
	if err := c.jobs.Close(ctx, job, status, runErr); err != nil {
		c.logger.Error("Failed to close job", zap.Error(err))
	}

	c.logger.Info("Ingestion run finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("discovered", job.FilesDiscovered),
		zap.Int("succeeded", job.FilesSucceeded),
		zap.Int("failed", job.FilesFailed),
		zap.Int("skipped", job.FilesSkipped),
		zap.Int("duplicate", job.FilesDuplicate))
	return job, runErr
}

func (c *Coordinator) discover(ctx context.Context, job *domain.ProcessingJob) ([]domain.BucketFileRecord, error) {
	var refs []bucket.FileRef
	err := c.retrier.Do(ctx, "bucket list", func(ctx context.Context) error {
		var listErr error
		refs, listErr = c.objects.List(ctx, c.bucketCfg.BucketName, c.bucketCfg.PathPrefix)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket: %w", err)
	}

	newFiles, err := c.catalog.Register(ctx, c.bucketCfg.BucketName, "scout_edge", refs)
	if err != nil {
		return nil, fmt.Errorf("register files: %w", err)
	}

	files, err := c.catalog.Discover(ctx, c.pipeline.MaxRetryAttempts, c.pipeline.DiscoveryLimit)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	job.FilesDiscovered = len(files)
	if err := c.jobs.UpdateProgress(ctx, job); err != nil {
		return nil, fmt.Errorf("persist discovery: %w", err)
	}

	c.logger.Info("Discovery complete",
		zap.String("job_id", job.ID),
		zap.Int("listed", len(refs)),
		zap.Int("new", newFiles),
		zap.Int("eligible", len(files)))
	return files, nil
}

func (c *Coordinator) processAll(ctx context.Context, job *domain.ProcessingJob, files []domain.BucketFileRecord) error {
	sem := semaphore.NewWeighted(int64(c.pipeline.MaxParallelWorkers))

	for start := 0; start < len(files); start += c.pipeline.BatchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run aborted with %d of %d files processed: %w",
				job.FilesProcessed(), job.FilesDiscovered, err)
		}

		end := start + c.pipeline.BatchSize
		if end > len(files) {
			end = len(files)
		}

		batchStart := time.Now()
		c.runBatch(ctx, job, files[start:end], sem)
		c.observer.ObserveBatchDuration(time.Since(batchStart))

		if job.FilesDiscovered > 0 {
			job.Progress = 100 * float64(job.FilesProcessed()) / float64(job.FilesDiscovered)
		}
		if err := c.jobs.UpdateProgress(ctx, job); err != nil {
			// Progress is best-effort on later batches; the close will
			// persist final counters.
			c.logger.Warn("Failed to persist batch progress", zap.Error(err))
		}
	}
	return nil
}

// runBatch processes one batch under the worker semaphore. When the
// circuit opens, files not yet started are deferred to the next run: they
// stay pending in the ledger and count as skipped in this job.
func (c *Coordinator) runBatch(ctx context.Context, job *domain.ProcessingJob, batch []domain.BucketFileRecord, sem *semaphore.Weighted) {
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		circuitOpen atomic.Bool
	)

	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o.Kind {
		case OutcomeCompleted:
			job.FilesSucceeded++
		case OutcomeFailed:
			job.FilesFailed++
		case OutcomeDuplicate:
			job.FilesDuplicate++
		case OutcomeSkipped:
			job.FilesSkipped++
		}
		c.observer.ObserveOutcome(o.Kind)
	}

	for _, file := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone: remaining files stay pending for the next run.
			record(Outcome{Kind: OutcomeSkipped, FileID: file.ID, Reason: "run aborted"})
			continue
		}

		if circuitOpen.Load() {
			sem.Release(1)
			record(Outcome{Kind: OutcomeSkipped, FileID: file.ID, Reason: "circuit open"})
			continue
		}

		wg.Add(1)
		go func(f domain.BucketFileRecord) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, err := c.processor.Process(ctx, f)
			if err != nil && errors.Is(err, resilience.ErrCircuitOpen) {
				circuitOpen.Store(true)
			}
			record(outcome)
		}(file)
	}

	wg.Wait()
}
