package domain

import "time"

// ConversionStatus represents the state of a conversion job.
// Cancellation is not a status: a cancelled job is removed from the registry.
type ConversionStatus string

const (
	ConversionStatusQueued     ConversionStatus = "queued"
	ConversionStatusConverting ConversionStatus = "converting"
	ConversionStatusCompleted  ConversionStatus = "completed"
	ConversionStatusFailed     ConversionStatus = "failed"
)

// MaxInFlightProgress caps progress until the output has been finalized,
// so a crash between encoder exit and rename is never reported as complete.
const MaxInFlightProgress = 99

// ConversionJob is one in-memory conversion attempt for one media item.
// Jobs are keyed by item ID and are not persisted.
type ConversionJob struct {
	ItemID     int64  `json:"item_id"`
	FileName   string `json:"file_name"`
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`

	Status   ConversionStatus `json:"status"`
	Progress int              `json:"progress"` // 0-100
	Error    string           `json:"error,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewConversionJob creates a queued job for an item.
func NewConversionJob(item *MediaItem, outputPath string) *ConversionJob {
	return &ConversionJob{
		ItemID:     item.ID,
		FileName:   item.FileName,
		SourcePath: item.FilePath,
		OutputPath: outputPath,
		Status:     ConversionStatusQueued,
		QueuedAt:   time.Now(),
	}
}

// MarkConverting transitions the job to converting state.
func (j *ConversionJob) MarkConverting() {
	j.Status = ConversionStatusConverting
	now := time.Now()
	j.StartedAt = &now
	j.Progress = 0
	j.Error = ""
}

// MarkCompleted transitions the job to completed state.
func (j *ConversionJob) MarkCompleted() {
	j.Status = ConversionStatusCompleted
	j.Progress = 100
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed state with an error message.
func (j *ConversionJob) MarkFailed(err string) {
	j.Status = ConversionStatusFailed
	j.Error = err
	now := time.Now()
	j.CompletedAt = &now
}

// SetProgress updates the in-flight progress, clamped to [0, MaxInFlightProgress].
// Returns true if the stored value changed.
func (j *ConversionJob) SetProgress(percent int) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > MaxInFlightProgress {
		percent = MaxInFlightProgress
	}
	if percent == j.Progress {
		return false
	}
	j.Progress = percent
	return true
}

// IsInFlight reports whether the job is queued or converting.
func (j *ConversionJob) IsInFlight() bool {
	return j.Status == ConversionStatusQueued || j.Status == ConversionStatusConverting
}

// IsTerminal reports whether the job has completed or failed.
func (j *ConversionJob) IsTerminal() bool {
	return j.Status == ConversionStatusCompleted || j.Status == ConversionStatusFailed
}
