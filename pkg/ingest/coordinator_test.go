// pkg/ingest/coordinator_test.go
package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/config"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/resilience"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		BatchSize:            10,
		MaxParallelWorkers:   3,
		QualityThreshold:     0.7,
		MaxRetryAttempts:     3,
		DiscoveryLimit:       10000,
		ValidationEnabled:    true,
		DeduplicationEnabled: true,
	}
}

func newTestCoordinator(ledger *fakeLedger, objects *fakeObjects, canonical *fakeCanonical, catalog *fakeCatalog, jobs *fakeJobs, breaker *resilience.Breaker, pipeline config.PipelineConfig) *Coordinator {
	logger := zap.NewNop()
	processor := NewProcessor(
		ledger,
		objects,
		fastRetrier(breaker),
		NewValidator(config.DefaultPolicy().Validator),
		NewDeduplicator(canonical),
		NewLoader(canonical, logger),
		&fakeQuarantine{},
		ProcessorOptions{
			QualityThreshold:     pipeline.QualityThreshold,
			ValidationEnabled:    pipeline.ValidationEnabled,
			DeduplicationEnabled: pipeline.DeduplicationEnabled,
		},
		logger,
	)

	return NewCoordinator(
		config.BucketConfig{BucketName: "scout-ingest", PathPrefix: "edge-transactions/"},
		pipeline,
		objects,
		catalog,
		jobs,
		processor,
		fastRetrier(breaker),
		nil,
		logger,
	)
}

func uniquePayload(t *testing.T) map[string]any {
	t.Helper()
	payload := validPayload()
	payload["transactionId"] = uuid.New().String()
	return payload
}

// One hundred files of mixed quality: every file ends in exactly one
// terminal outcome and the job counters account for all of them.
func TestRunHundredFileScenario(t *testing.T) {
	ledger := newFakeLedger()
	objects := newFakeObjects()
	canonical := newFakeCanonical()
	jobs := &fakeJobs{}
	breaker := resilience.NewBreaker(1000, time.Minute, zap.NewNop())

	var files []domain.BucketFileRecord
	dupID := uuid.New().String()

	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("edge-transactions/txn-%03d.json", i)
		file := pendingFile(fmt.Sprintf("f%03d", i), path)
		ledger.add(file.ID, domain.FileStatusPending)
		files = append(files, file)

		switch {
		case i < 70:
			// Valid, unique transactions.
			objects.content[path] = payloadBytes(t, uniquePayload(t))
		case i < 80:
			// All carry the same transaction id: 1 load, 9 duplicates.
			payload := validPayload()
			payload["transactionId"] = dupID
			objects.content[path] = payloadBytes(t, payload)
		case i < 90:
			// Unparseable.
			objects.content[path] = []byte("not json at all")
		default:
			// Below the quality threshold.
			payload := uniquePayload(t)
			delete(payload, "storeId")
			delete(payload, "deviceId")
			delete(payload, "items")
			objects.content[path] = payloadBytes(t, payload)
		}
	}

	catalog := &fakeCatalog{ledger: ledger, files: files}
	coord := newTestCoordinator(ledger, objects, canonical, catalog, jobs, breaker, testPipelineConfig())

	job, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if job.FilesDiscovered != 100 {
		t.Errorf("discovered = %d, want 100", job.FilesDiscovered)
	}
	if job.FilesProcessed() != 100 {
		t.Errorf("processed = %d, want 100", job.FilesProcessed())
	}
	if job.FilesSucceeded != 71 {
		t.Errorf("succeeded = %d, want 71", job.FilesSucceeded)
	}
	if job.FilesDuplicate != 9 {
		t.Errorf("duplicate = %d, want 9", job.FilesDuplicate)
	}
	if job.FilesFailed != 10 {
		t.Errorf("failed = %d, want 10", job.FilesFailed)
	}
	if job.FilesSkipped != 10 {
		t.Errorf("skipped = %d, want 10", job.FilesSkipped)
	}
	if jobs.closed != domain.JobStatusCompletedWithErrors {
		t.Errorf("job status = %s, want completed_with_errors", jobs.closed)
	}
	// 70 unique + 1 from the duplicate group.
	if len(canonical.rows) != 71 {
		t.Errorf("canonical rows = %d, want 71", len(canonical.rows))
	}
	// Progress persisted after discovery plus every batch.
	if jobs.updates < 11 {
		t.Errorf("progress updates = %d, want at least 11", jobs.updates)
	}
}

func TestRunCompletesCleanlyWithNoFiles(t *testing.T) {
	ledger := newFakeLedger()
	objects := newFakeObjects()
	jobs := &fakeJobs{}
	breaker := resilience.NewBreaker(5, time.Minute, zap.NewNop())
	catalog := &fakeCatalog{ledger: ledger}

	coord := newTestCoordinator(ledger, objects, newFakeCanonical(), catalog, jobs, breaker, testPipelineConfig())

	job, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if job.FilesProcessed() != 0 {
		t.Errorf("processed = %d, want 0", job.FilesProcessed())
	}
	if jobs.closed != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", jobs.closed)
	}
}

func TestRunCleanBatchCompletes(t *testing.T) {
	ledger := newFakeLedger()
	objects := newFakeObjects()
	canonical := newFakeCanonical()
	jobs := &fakeJobs{}
	breaker := resilience.NewBreaker(1000, time.Minute, zap.NewNop())

	var files []domain.BucketFileRecord
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("edge-transactions/ok-%02d.json", i)
		file := pendingFile(fmt.Sprintf("f%02d", i), path)
		ledger.add(file.ID, domain.FileStatusPending)
		objects.content[path] = payloadBytes(t, uniquePayload(t))
		files = append(files, file)
	}

	catalog := &fakeCatalog{ledger: ledger, files: files}
	coord := newTestCoordinator(ledger, objects, canonical, catalog, jobs, breaker, testPipelineConfig())

	job, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if job.FilesSucceeded != 25 {
		t.Errorf("succeeded = %d, want 25", job.FilesSucceeded)
	}
	if jobs.closed != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", jobs.closed)
	}
}

// When the breaker opens mid-run, files not yet started are deferred: the
// job counts them as skipped and the ledger keeps them pending.
func TestRunDefersRemainingFilesOnOpenCircuit(t *testing.T) {
	ledger := newFakeLedger()
	objects := newFakeObjects()
	canonical := newFakeCanonical()
	jobs := &fakeJobs{}
	// Threshold 3 with a persistent download failure: the first file's
	// retries trip the breaker.
	breaker := resilience.NewBreaker(3, time.Minute, zap.NewNop())

	pipeline := testPipelineConfig()
	pipeline.MaxParallelWorkers = 1

	var files []domain.BucketFileRecord
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("edge-transactions/down-%02d.json", i)
		file := pendingFile(fmt.Sprintf("f%02d", i), path)
		ledger.add(file.ID, domain.FileStatusPending)
		files = append(files, file)
	}
	objects.downloadErr = fmt.Errorf("object store down")

	catalog := &fakeCatalog{ledger: ledger, files: files}
	coord := newTestCoordinator(ledger, objects, canonical, catalog, jobs, breaker, pipeline)

	job, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if job.FilesProcessed() != 10 {
		t.Errorf("processed accounting = %d, want 10", job.FilesProcessed())
	}
	if job.FilesFailed == 0 {
		t.Error("expected at least one failed file before the breaker opened")
	}
	if job.FilesSkipped == 0 {
		t.Error("expected deferred files to count as skipped")
	}

	// Deferred files are back to pending, eligible next run.
	pending := 0
	for _, f := range files {
		if ledger.status(f.ID) == domain.FileStatusPending {
			pending++
		}
	}
	if pending == 0 {
		t.Error("expected deferred files to remain pending in the ledger")
	}
}
