package domain

import "fmt"

// FileStatus is the processing state of a bucket file. The status column is
// the only coordination mechanism between concurrent workers, so every
// transition goes through the file store's conditional updates.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
	FileStatusDuplicate  FileStatus = "duplicate"
	FileStatusSkipped    FileStatus = "skipped"
)

// Valid reports whether the status is one of the known values.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusCompleted,
		FileStatusFailed, FileStatusDuplicate, FileStatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the file needs no further processing this run.
func (s FileStatus) Terminal() bool {
	switch s {
	case FileStatusCompleted, FileStatusDuplicate, FileStatusSkipped:
		return true
	}
	return false
}

// JobStatus is the overall state of a coordinator run.
type JobStatus string

const (
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// LayerStatus is the derived health of a medallion layer.
type LayerStatus string

const (
	LayerHealthy  LayerStatus = "HEALTHY"
	LayerWarning  LayerStatus = "WARNING"
	LayerCritical LayerStatus = "CRITICAL"
	LayerUnknown  LayerStatus = "UNKNOWN"
)

// Rank orders statuses by severity so the overall status can be computed as a
// maximum. UNKNOWN ranks below WARNING: it signals missing data, not damage.
func (s LayerStatus) Rank() int {
	switch s {
	case LayerHealthy:
		return 0
	case LayerUnknown:
		return 1
	case LayerWarning:
		return 2
	case LayerCritical:
		return 3
	default:
		return 3
	}
}

// SLAStatus reports how a layer tracks against its configured target.
type SLAStatus string

const (
	SLAMeeting  SLAStatus = "MEETING"
	SLAAtRisk   SLAStatus = "AT_RISK"
	SLAViolated SLAStatus = "VIOLATED"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
)

// QuarantineCategory names why a file was quarantined.
type QuarantineCategory string

const (
	QuarantineParsingFailed    QuarantineCategory = "PARSING_FAILED"
	QuarantineValidationFailed QuarantineCategory = "VALIDATION_FAILED"
	QuarantineProcessingFailed QuarantineCategory = "PROCESSING_FAILED"
)

// ParseFileStatus converts a stored status string back into a FileStatus.
func ParseFileStatus(s string) (FileStatus, error) {
	fs := FileStatus(s)
	if !fs.Valid() {
		return "", fmt.Errorf("unknown file status %q", s)
	}
	return fs, nil
}
