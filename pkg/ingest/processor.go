// pkg/ingest/processor.go
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/resilience"
)

// OutcomeKind classifies how a file's processing ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Outcome is the per-file processing result. Outcomes are returned, never
// thrown: a failed file is a normal result, not an error of the run.
type Outcome struct {
	Kind          OutcomeKind
	FileID        string
	TransactionID string
	QualityScore  float64
	Reason        string
}

// FileLedger is the file-record surface the processor needs.
type FileLedger interface {
	Claim(ctx context.Context, fileID string) (bool, error)
	Release(ctx context.Context, fileID string) error
	MarkCompleted(ctx context.Context, fileID string, qualityScore float64, meta domain.EdgeMetadata) error
	MarkFailed(ctx context.Context, fileID, errMsg string) error
	MarkDuplicate(ctx context.Context, fileID, transactionID string) error
	MarkSkipped(ctx context.Context, fileID, reason string) error
}

// Quarantiner preserves failed payloads for replay.
type Quarantiner interface {
	Add(ctx context.Context, rec *domain.QuarantineRecord) error
}

// ProcessorOptions are the per-file pipeline knobs.
type ProcessorOptions struct {
	QualityThreshold     float64
	ValidationEnabled    bool
	DeduplicationEnabled bool
}

// Processor drives one file through claim, download, parse, validate,
// dedup, load, and finalize.
type Processor struct {
	ledger     FileLedger
	objects    bucket.ObjectStore
	retrier    *resilience.Retrier
	validator  *Validator
	dedup      *Deduplicator
	loader     *Loader
	quarantine Quarantiner
	opts       ProcessorOptions
	logger     *zap.Logger
}

// NewProcessor wires the per-file pipeline.
func NewProcessor(
	ledger FileLedger,
	objects bucket.ObjectStore,
	retrier *resilience.Retrier,
	validator *Validator,
	dedup *Deduplicator,
	loader *Loader,
	quarantine Quarantiner,
	opts ProcessorOptions,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		ledger:     ledger,
		objects:    objects,
		retrier:    retrier,
		validator:  validator,
		dedup:      dedup,
		loader:     loader,
		quarantine: quarantine,
		opts:       opts,
		logger:     logger.Named("processor"),
	}
}

// Process runs the full state machine for one file. Every path finalizes
// the ledger row; the error return is reserved for ErrCircuitOpen so the
// coordinator can defer the rest of the batch.
func (p *Processor) Process(ctx context.Context, file domain.BucketFileRecord) (Outcome, error) {
	log := p.logger.With(
		zap.String("file_id", file.ID),
		zap.String("file_path", file.FilePath))

	// Claim: losing the conditional update means another worker owns it.
	claimed, err := p.ledger.Claim(ctx, file.ID)
	if err != nil {
		return p.fail(ctx, file, fmt.Sprintf("claim: %v", err)), nil
	}
	if !claimed {
		log.Debug("File already claimed elsewhere")
		return Outcome{Kind: OutcomeSkipped, FileID: file.ID, Reason: "claimed by another worker"}, nil
	}

	var content []byte
	err = p.retrier.Do(ctx, "bucket download", func(ctx context.Context) error {
		var dlErr error
		content, dlErr = p.objects.Download(ctx, file.BucketName, file.FilePath)
		return dlErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// Not the file's fault. Put it back and let the coordinator
			// defer the remainder of the batch.
			if relErr := p.ledger.Release(ctx, file.ID); relErr != nil {
				log.Error("Failed to release deferred file", zap.Error(relErr))
			}
			return Outcome{Kind: OutcomeSkipped, FileID: file.ID, Reason: "circuit open"}, err
		}
		return p.fail(ctx, file, fmt.Sprintf("download: %v", err)), nil
	}

	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		perr := &ParseError{File: file.FilePath, Err: err}
		p.quarantineFile(ctx, file, content, domain.QuarantineParsingFailed, perr.Error())
		return p.fail(ctx, file, perr.Error()), nil
	}

	qualityScore := 1.0
	if p.opts.ValidationEnabled {
		res := p.validator.Validate(payload)
		qualityScore = res.QualityScore

		if !res.IsValid && res.QualityScore < p.opts.QualityThreshold {
			verr := &ValidationError{File: file.FilePath, Score: res.QualityScore, Issues: res.Issues}
			p.quarantineFile(ctx, file, content, domain.QuarantineValidationFailed, verr.Error())
			// Tag the ledger row with the category so skipped-for-quality
			// rows stay distinguishable from other skips.
			reason := fmt.Sprintf("%s: quality %.2f below threshold %.2f: %s",
				domain.QuarantineValidationFailed, res.QualityScore, p.opts.QualityThreshold,
				strings.Join(res.Issues, "; "))
			if err := p.ledger.MarkSkipped(ctx, file.ID, reason); err != nil {
				log.Error("Failed to mark file skipped", zap.Error(err))
			}
			return Outcome{Kind: OutcomeSkipped, FileID: file.ID, QualityScore: res.QualityScore, Reason: reason}, nil
		}
		if !res.IsValid {
			log.Warn("Payload degraded but above threshold",
				zap.Float64("quality_score", res.QualityScore),
				zap.Strings("issues", res.Issues))
		}
	}

	transactionID := getString(payload, "transactionId")
	if p.opts.DeduplicationEnabled && transactionID != "" {
		exists, err := p.dedup.Exists(ctx, transactionID)
		if err != nil {
			return p.fail(ctx, file, err.Error()), nil
		}
		if exists {
			if err := p.ledger.MarkDuplicate(ctx, file.ID, transactionID); err != nil {
				log.Error("Failed to mark file duplicate", zap.Error(err))
			}
			return Outcome{Kind: OutcomeDuplicate, FileID: file.ID, TransactionID: transactionID}, nil
		}
	}

	rec, inserted, err := p.loader.Load(ctx, payload, file.FilePath)
	if err != nil {
		var terr *TransientError
		if errors.As(err, &terr) {
			return p.fail(ctx, file, fmt.Sprintf("load: %v", err)), nil
		}
		p.quarantineFile(ctx, file, content, domain.QuarantineProcessingFailed, err.Error())
		return p.fail(ctx, file, fmt.Sprintf("transform: %v", err)), nil
	}
	if !inserted {
		// Lost the insert race: still a duplicate, not a failure.
		if err := p.ledger.MarkDuplicate(ctx, file.ID, rec.TransactionID); err != nil {
			log.Error("Failed to mark file duplicate", zap.Error(err))
		}
		return Outcome{Kind: OutcomeDuplicate, FileID: file.ID, TransactionID: rec.TransactionID}, nil
	}

	meta := Metadata(rec, rec.AudioTranscript != nil)
	if err := p.ledger.MarkCompleted(ctx, file.ID, qualityScore, meta); err != nil {
		return p.fail(ctx, file, fmt.Sprintf("finalize: %v", err)), nil
	}

	log.Info("File loaded",
		zap.String("transaction_id", rec.TransactionID),
		zap.Float64("quality_score", qualityScore),
		zap.Int("items", rec.TotalItems))
	return Outcome{
		Kind:          OutcomeCompleted,
		FileID:        file.ID,
		TransactionID: rec.TransactionID,
		QualityScore:  qualityScore,
	}, nil
}

func (p *Processor) fail(ctx context.Context, file domain.BucketFileRecord, reason string) Outcome {
	if err := p.ledger.MarkFailed(ctx, file.ID, reason); err != nil {
		p.logger.Error("Failed to record file failure",
			zap.String("file_id", file.ID),
			zap.Error(err))
	}
	return Outcome{Kind: OutcomeFailed, FileID: file.ID, Reason: reason}
}

func (p *Processor) quarantineFile(ctx context.Context, file domain.BucketFileRecord, content []byte, category domain.QuarantineCategory, msg string) {
	rec := &domain.QuarantineRecord{
		SourceBucket: file.BucketName,
		SourceFile:   file.FilePath,
		FileID:       file.ID,
		Category:     category,
		ErrorMessage: msg,
		RawContent:   content,
	}
	if err := p.quarantine.Add(ctx, rec); err != nil {
		p.logger.Error("Failed to quarantine file",
			zap.String("file_id", file.ID),
			zap.Error(err))
	}
}
