package domain

import (
	"time"
)

// BucketFileRecord tracks one object-store file through the ingestion
// pipeline. Rows are append-only: processing only ever mutates the status
// fields, never removes the audit trail.
type BucketFileRecord struct {
	ID           string     `db:"id"`
	BucketName   string     `db:"bucket_name"`
	FilePath     string     `db:"file_path"`
	FileName     string     `db:"file_name"`
	FileSize     int64      `db:"file_size"`
	FileHash     string     `db:"file_hash"`
	SourceType   string     `db:"source_type"`
	UploadedAt   time.Time  `db:"uploaded_at"`
	Status       FileStatus `db:"processing_status"`
	RetryCount   int        `db:"retry_count"`
	LastError    *string    `db:"last_error"`
	QualityScore *float64   `db:"quality_score"`

	// Extracted after a successful load.
	DeviceID  *string `db:"device_id"`
	StoreID   *string `db:"store_id"`
	ItemCount *int    `db:"item_count"`

	UpdatedAt time.Time `db:"updated_at"`
}

// EdgeMetadata is the domain metadata extracted from a parsed transaction
// payload, attached to the file record when processing completes.
type EdgeMetadata struct {
	TransactionID       string
	StoreID             string
	DeviceID            string
	ItemCount           int
	TotalAmount         float64
	BrandedAmount       float64
	UnbrandedAmount     float64
	UniqueBrandsCount   int
	HasBrandDetection   bool
	DetectedBrandsCount int
	HasAudioTranscript  bool
	EdgeVersion         string
	PrivacyCompliant    bool
}

// ProcessingJob records one coordinator run.
type ProcessingJob struct {
	ID             string     `db:"id"`
	Name           string     `db:"job_name"`
	ConfigSnapshot string     `db:"source_config"`
	Status         JobStatus  `db:"status"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	Phase          string     `db:"current_phase"`
	Progress       float64    `db:"progress_percentage"`

	FilesDiscovered int     `db:"files_discovered"`
	FilesSucceeded  int     `db:"files_succeeded"`
	FilesFailed     int     `db:"files_failed"`
	FilesSkipped    int     `db:"files_skipped"`
	FilesDuplicate  int     `db:"files_duplicate"`
	LastError       *string `db:"last_error"`
}

// FilesProcessed is the total across all terminal outcomes.
func (j *ProcessingJob) FilesProcessed() int {
	return j.FilesSucceeded + j.FilesFailed + j.FilesSkipped + j.FilesDuplicate
}

// CanonicalRecord is one Bronze row: a validated transaction keyed by its
// business identity. Insertion is idempotent; at most one row exists per
// transaction id no matter how many files carry it.
type CanonicalRecord struct {
	TransactionID        string    `db:"transaction_id"`
	StoreID              string    `db:"store_id"`
	DeviceID             string    `db:"device_id"`
	TransactionTimestamp time.Time `db:"transaction_timestamp"`

	// Raw substructures kept as JSONB for the Silver transform.
	Items              []byte `db:"items"`
	DetectedBrands     []byte `db:"detected_brands"`
	TransactionContext []byte `db:"transaction_context"`
	PrivacySettings    []byte `db:"privacy_settings"`

	// Flattened totals and brand intelligence.
	TotalAmount         float64 `db:"total_amount"`
	TotalItems          int     `db:"total_items"`
	BrandedAmount       float64 `db:"branded_amount"`
	UnbrandedAmount     float64 `db:"unbranded_amount"`
	UniqueBrandsCount   int     `db:"unique_brands_count"`
	DetectedBrandsCount int     `db:"detected_brands_count"`

	// Flattened context.
	DurationSeconds *float64 `db:"duration_seconds"`
	PaymentMethod   *string  `db:"payment_method"`
	TimeOfDay       *string  `db:"time_of_day"`
	DayType         *string  `db:"day_type"`
	AudioTranscript *string  `db:"audio_transcript"`

	// Flattened privacy flags.
	AudioStored        bool   `db:"audio_stored"`
	BrandAnalysisOnly  bool   `db:"brand_analysis_only"`
	AnonymizationLevel string `db:"anonymization_level"`
	DataRetentionDays  int    `db:"data_retention_days"`

	SourceFile  string    `db:"source_file"`
	EdgeVersion string    `db:"edge_version"`
	IngestedAt  time.Time `db:"ingested_at"`
	IngestedBy  string    `db:"ingested_by"`
}

// QuarantineRecord preserves a failed file for forensic replay. Never mutated.
type QuarantineRecord struct {
	ID           int64              `db:"quarantine_id"`
	SourceBucket string             `db:"source_bucket"`
	SourceFile   string             `db:"source_file"`
	FileID       string             `db:"file_id"`
	Category     QuarantineCategory `db:"error_type"`
	ErrorMessage string             `db:"error_message"`
	RawContent   []byte             `db:"raw_content"`
	CreatedAt    time.Time          `db:"created_at"`
}
