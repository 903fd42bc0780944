// pkg/ingest/fakes_test.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/config"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/resilience"
)

type fakeLedger struct {
	mu       sync.Mutex
	statuses map[string]domain.FileStatus
	retries  map[string]int
	scores   map[string]float64
	reasons  map[string]string

	claimErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		statuses: make(map[string]domain.FileStatus),
		retries:  make(map[string]int),
		scores:   make(map[string]float64),
		reasons:  make(map[string]string),
	}
}

func (l *fakeLedger) add(id string, status domain.FileStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[id] = status
}

func (l *fakeLedger) status(id string) domain.FileStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[id]
}

func (l *fakeLedger) Claim(ctx context.Context, fileID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	switch l.statuses[fileID] {
	case domain.FileStatusPending, domain.FileStatusFailed:
		l.statuses[fileID] = domain.FileStatusProcessing
		return true, nil
	}
	return false, nil
}

func (l *fakeLedger) Release(ctx context.Context, fileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statuses[fileID] == domain.FileStatusProcessing {
		l.statuses[fileID] = domain.FileStatusPending
	}
	return nil
}

func (l *fakeLedger) MarkCompleted(ctx context.Context, fileID string, score float64, meta domain.EdgeMetadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[fileID] = domain.FileStatusCompleted
	l.scores[fileID] = score
	return nil
}

func (l *fakeLedger) MarkFailed(ctx context.Context, fileID, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[fileID] = domain.FileStatusFailed
	l.retries[fileID]++
	l.reasons[fileID] = errMsg
	return nil
}

func (l *fakeLedger) MarkDuplicate(ctx context.Context, fileID, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[fileID] = domain.FileStatusDuplicate
	return nil
}

func (l *fakeLedger) MarkSkipped(ctx context.Context, fileID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[fileID] = domain.FileStatusSkipped
	l.reasons[fileID] = reason
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	content map[string][]byte
	listed  []bucket.FileRef

	downloadErr  error
	failDownNext int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{content: make(map[string][]byte)}
}

func (o *fakeObjects) List(ctx context.Context, bucketName, prefix string) ([]bucket.FileRef, error) {
	return o.listed, nil
}

func (o *fakeObjects) Download(ctx context.Context, bucketName, path string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failDownNext > 0 {
		o.failDownNext--
		return nil, errors.New("connection reset")
	}
	if o.downloadErr != nil {
		return nil, o.downloadErr
	}
	data, ok := o.content[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

type fakeCanonical struct {
	mu     sync.Mutex
	rows   map[string]*domain.CanonicalRecord
	insErr error
}

func newFakeCanonical() *fakeCanonical {
	return &fakeCanonical{rows: make(map[string]*domain.CanonicalRecord)}
}

func (c *fakeCanonical) Exists(ctx context.Context, transactionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rows[transactionID]
	return ok, nil
}

func (c *fakeCanonical) Insert(ctx context.Context, rec *domain.CanonicalRecord) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insErr != nil {
		return false, c.insErr
	}
	if _, ok := c.rows[rec.TransactionID]; ok {
		return false, nil
	}
	c.rows[rec.TransactionID] = rec
	return true, nil
}

type fakeQuarantine struct {
	mu   sync.Mutex
	recs []*domain.QuarantineRecord
}

func (q *fakeQuarantine) Add(ctx context.Context, rec *domain.QuarantineRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec.ID = int64(len(q.recs) + 1)
	q.recs = append(q.recs, rec)
	return nil
}

type fakeJobs struct {
	mu      sync.Mutex
	job     *domain.ProcessingJob
	updates int
	closed  domain.JobStatus
}

func (j *fakeJobs) Create(ctx context.Context, name, configSnapshot string) (*domain.ProcessingJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.job = &domain.ProcessingJob{
		ID:        "job-1",
		Name:      name,
		Status:    domain.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	return j.job, nil
}

func (j *fakeJobs) UpdateProgress(ctx context.Context, job *domain.ProcessingJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updates++
	return nil
}

func (j *fakeJobs) Close(ctx context.Context, job *domain.ProcessingJob, status domain.JobStatus, lastErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = status
	job.Status = status
	return nil
}

type fakeCatalog struct {
	ledger *fakeLedger
	files  []domain.BucketFileRecord
}

func (c *fakeCatalog) Register(ctx context.Context, bucketName, sourceType string, refs []bucket.FileRef) (int, error) {
	return len(refs), nil
}

func (c *fakeCatalog) Discover(ctx context.Context, maxRetries, limit int) ([]domain.BucketFileRecord, error) {
	if len(c.files) > limit {
		return c.files[:limit], nil
	}
	return c.files, nil
}

func fastRetrier(breaker *resilience.Breaker) *resilience.Retrier {
	return resilience.NewRetrier(resilience.Policy{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Millisecond,
	}, breaker, zap.NewNop())
}

func newTestProcessor(ledger *fakeLedger, objects *fakeObjects, canonical *fakeCanonical, quarantine *fakeQuarantine, breaker *resilience.Breaker) *Processor {
	logger := zap.NewNop()
	return NewProcessor(
		ledger,
		objects,
		fastRetrier(breaker),
		NewValidator(config.DefaultPolicy().Validator),
		NewDeduplicator(canonical),
		NewLoader(canonical, logger),
		quarantine,
		ProcessorOptions{
			QualityThreshold:     0.7,
			ValidationEnabled:    true,
			DeduplicationEnabled: true,
		},
		logger,
	)
}
