package bulkjobs

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
)

// Job status values. A job leaves pending exactly once (start); stopped,
// completed and failed are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// Processing modes.
const (
	ModeOnce       = "once"
	ModeContinuous = "continuous"
)

// ProcessingConfig is the job's discovery behavior, stored as jsonb.
type ProcessingConfig struct {
	// Mode is once (single discovery pass) or continuous.
	Mode string `json:"mode"`
	// DiscoveryBatchSize overrides the document insert batch size.
	// Zero means the configured default.
	DiscoveryBatchSize int `json:"discovery_batch_size,omitempty"`
}

func (c *ProcessingConfig) normalize() error {
	if c.Mode == "" {
		c.Mode = ModeOnce
	}
	if c.Mode != ModeOnce && c.Mode != ModeContinuous {
		return apperror.NewBadRequest("processing_config.mode must be once or continuous")
	}
	if c.DiscoveryBatchSize < 0 {
		return apperror.NewBadRequest("processing_config.discovery_batch_size must not be negative")
	}
	return nil
}

// ProcessingOptions tune how the job's documents are extracted, stored
// as jsonb. Documents inherit priority and max_retries at discovery.
type ProcessingOptions struct {
	// Priority is 1 (highest) to 5 (lowest).
	Priority int `json:"priority"`
	// MaxRetries bounds per-document retry_count.
	MaxRetries int `json:"max_retries"`
	// ParallelWorkers and WorkerConcurrency override the global worker
	// settings for this job. Zero means inherit.
	ParallelWorkers   int `json:"parallel_workers,omitempty"`
	WorkerConcurrency int `json:"worker_concurrency,omitempty"`
	// CheckpointInterval is the page-progress write interval, in pages.
	CheckpointInterval int `json:"checkpoint_interval,omitempty"`
	// SignatureDetection asks the model to look for signature regions.
	SignatureDetection bool `json:"signature_detection,omitempty"`
	// DocumentType hints the prompt builder (e.g. bank_statement, ktp).
	DocumentType string `json:"document_type,omitempty"`
}

func (o *ProcessingOptions) normalize() error {
	if o.Priority == 0 {
		o.Priority = 3
	}
	if o.Priority < 1 || o.Priority > 5 {
		return apperror.NewBadRequest("processing_options.priority must be between 1 and 5")
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		return apperror.NewBadRequest("processing_options.max_retries must not be negative")
	}
	if o.ParallelWorkers < 0 || o.WorkerConcurrency < 0 || o.CheckpointInterval < 0 {
		return apperror.NewBadRequest("processing_options worker settings must not be negative")
	}
	return nil
}

// BulkJob is one bulk extraction run over a document source, from
// ext.bulk_jobs.
type BulkJob struct {
	bun.BaseModel `bun:"table:ext.bulk_jobs,alias:bj"`

	ID     string  `bun:"id,pk" json:"id"`
	Name   string  `bun:"name,notnull" json:"name"`
	UserID *string `bun:"user_id" json:"user_id,omitempty"`

	SourceType   string          `bun:"source_type,notnull" json:"source_type"`
	SourceConfig json.RawMessage `bun:"source_config,type:jsonb,notnull" json:"source_config"`

	ProcessingConfig  ProcessingConfig  `bun:"processing_config,type:jsonb,notnull" json:"processing_config"`
	ProcessingOptions ProcessingOptions `bun:"processing_options,type:jsonb,notnull" json:"processing_options"`

	Status             string `bun:"status,notnull,default:'pending'" json:"status"`
	TotalDocuments     int    `bun:"total_documents,notnull,default:0" json:"total_documents"`
	ProcessedDocuments int    `bun:"processed_documents,notnull,default:0" json:"processed_documents"`
	FailedDocuments    int    `bun:"failed_documents,notnull,default:0" json:"failed_documents"`

	StartedAt   *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`

	// NeedsReviewCount is computed on reads, never stored.
	NeedsReviewCount int `bun:"needs_review_count,scanonly" json:"needs_review_count"`
}

// IsTerminal reports whether the job can never process again.
func (j *BulkJob) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// AcceptsRetries reports whether per-document retries may be enqueued.
// Paused and stopped jobs block them; a completed job accepts them so a
// reviewer can reprocess stragglers.
func (j *BulkJob) AcceptsRetries() bool {
	return j.Status == StatusRunning || j.Status == StatusCompleted
}

// Processing log levels.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// ProcessingLog is one operational log line for a job or one of its
// documents, from ext.processing_logs. Workers append these at stage
// transitions; the rows die with the job.
type ProcessingLog struct {
	bun.BaseModel `bun:"table:ext.processing_logs,alias:pl"`

	ID         string         `bun:"id,pk" json:"id"`
	JobID      string         `bun:"job_id,notnull" json:"job_id"`
	DocumentID *string        `bun:"document_id" json:"document_id,omitempty"`
	Level      string         `bun:"level,notnull,default:'info'" json:"level"`
	Stage      string         `bun:"stage,notnull" json:"stage"`
	Message    string         `bun:"message,notnull" json:"message"`
	Details    map[string]any `bun:"details,type:jsonb" json:"details,omitempty"`
	CreatedAt  time.Time      `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// CreateJobRequest is the POST /bulk-jobs body.
type CreateJobRequest struct {
	Name              string            `json:"name"`
	UserID            string            `json:"user_id,omitempty"`
	SourceType        string            `json:"source_type"`
	SourceConfig      json.RawMessage   `json:"source_config"`
	ProcessingConfig  ProcessingConfig  `json:"processing_config"`
	ProcessingOptions ProcessingOptions `json:"processing_options"`
}

// UpdateJobRequest is the PUT /bulk-jobs/{id} body. Nil fields keep
// their current values; the source is immutable.
type UpdateJobRequest struct {
	Name              *string            `json:"name,omitempty"`
	ProcessingConfig  *ProcessingConfig  `json:"processing_config,omitempty"`
	ProcessingOptions *ProcessingOptions `json:"processing_options,omitempty"`
}

// EstimateRequest is the POST /estimate body.
type EstimateRequest struct {
	SourceType   string          `json:"source_type"`
	SourceConfig json.RawMessage `json:"source_config"`
}

// EstimateResponse reports a capped document count for a source.
type EstimateResponse struct {
	EstimatedDocuments int    `json:"estimated_documents"`
	Message            string `json:"message"`
}

// ListParams filters the job listing.
type ListParams struct {
	Skip         int
	Limit        int
	StatusFilter string
}

// ListResult is a page of jobs plus the unpaginated total.
type ListResult struct {
	Jobs  []*BulkJob `json:"jobs"`
	Total int        `json:"total"`
	Skip  int        `json:"skip"`
	Limit int        `json:"limit"`
}

// ReconcileReport summarizes one reconciler sweep.
type ReconcileReport struct {
	JobsCompleted         []string `json:"jobs_completed"`
	DocumentsReverted     int      `json:"documents_reverted"`
	TasksReenqueued       int      `json:"tasks_reenqueued"`
	TasksRecovered        int      `json:"tasks_recovered"`
	ReviewItemsBackfilled int64    `json:"review_items_backfilled"`
}
