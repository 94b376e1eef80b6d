package documents

import (
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// Document status values. Terminal states are completed, failed and
// needs_review; only a retry leaves a terminal state (back to queued).
const (
	StatusPending     = "pending"
	StatusQueued      = "queued"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusNeedsReview = "needs_review"
)

// IsTerminal reports whether a document status is terminal.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusNeedsReview:
		return true
	}
	return false
}

// IsClaimable reports whether a worker may claim a document for
// processing. Task replays against documents in any other state exit
// without effect.
func IsClaimable(status string) bool {
	return status == StatusQueued || status == StatusPending
}

// Document is one file within a bulk job, from ext.documents.
type Document struct {
	bun.BaseModel `bun:"table:ext.documents,alias:d"`

	ID         string `bun:"id,pk" json:"id"`
	JobID      string `bun:"job_id,notnull" json:"job_id"`
	SourcePath string `bun:"source_path,notnull" json:"source_path"`
	Filename   string `bun:"filename,notnull" json:"filename"`
	FileSize   int64  `bun:"file_size,notnull,default:0" json:"file_size"`
	MimeType   string `bun:"mime_type,notnull,default:''" json:"mime_type"`

	Status     string `bun:"status,notnull,default:'pending'" json:"status"`
	RetryCount int    `bun:"retry_count,notnull,default:0" json:"retry_count"`
	MaxRetries int    `bun:"max_retries,notnull,default:3" json:"max_retries"`
	Priority   int    `bun:"priority,notnull,default:3" json:"priority"`

	WorkerID            *string    `bun:"worker_id" json:"worker_id,omitempty"`
	ProcessingStartedAt *time.Time `bun:"processing_started_at" json:"processing_started_at,omitempty"`
	ProcessingStage     *string    `bun:"processing_stage" json:"processing_stage,omitempty"`

	PagesProcessed int           `bun:"pages_processed,notnull,default:0" json:"pages_processed"`
	TotalPages     int           `bun:"total_pages,notnull,default:0" json:"total_pages"`
	FailedPages    pq.Int64Array `bun:"failed_pages,type:integer[],notnull,default:'{}'" json:"failed_pages"`

	// Per-run telemetry, written atomically with the field bulk-insert.
	ExtractionTimeMs     *int64         `bun:"extraction_time_ms" json:"extraction_time_ms,omitempty"`
	TokenUsage           map[string]any `bun:"token_usage,type:jsonb" json:"token_usage,omitempty"`
	ExtractionCost       *float64       `bun:"extraction_cost" json:"extraction_cost,omitempty"`
	TotalFieldsExtracted int            `bun:"total_fields_extracted,notnull,default:0" json:"total_fields_extracted"`
	FieldsNeedingReview  int            `bun:"fields_needing_review,notnull,default:0" json:"fields_needing_review"`
	AverageConfidence    *float64       `bun:"average_confidence" json:"average_confidence,omitempty"`

	ErrorMessage *string    `bun:"error_message" json:"error_message,omitempty"`
	ErrorType    *string    `bun:"error_type" json:"error_type,omitempty"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`

	// DownloadURL is computed for object-store documents on listing.
	DownloadURL string `bun:"-" json:"download_url,omitempty"`
}

// CanRetry reports whether a manual retry is allowed: the document must
// be in a retryable terminal state with retry budget remaining.
func (d *Document) CanRetry() bool {
	if d.Status != StatusFailed && d.Status != StatusNeedsReview {
		return false
	}
	return d.RetryCount < d.MaxRetries
}

// IsTerminal reports whether the document is in a terminal state.
func (d *Document) IsTerminal() bool {
	return IsTerminal(d.Status)
}

// Field validation status values.
const (
	ValidationPending   = "pending"
	ValidationReviewed  = "reviewed"
	ValidationCorrected = "corrected"
)

// ExtractedField is one leaf value pulled from a document, with
// provenance, from ext.extracted_fields. Table cells carry names of the
// form parent.child[index].column.
type ExtractedField struct {
	bun.BaseModel `bun:"table:ext.extracted_fields,alias:f"`

	ID         string `bun:"id,pk" json:"id"`
	JobID      string `bun:"job_id,notnull" json:"job_id"`
	DocumentID string `bun:"document_id,notnull" json:"document_id"`

	FieldName  string  `bun:"field_name,notnull" json:"field_name"`
	FieldLabel string  `bun:"field_label,notnull,default:''" json:"field_label"`
	FieldType  string  `bun:"field_type,notnull,default:'text'" json:"field_type"`
	FieldValue *string `bun:"field_value" json:"field_value"`
	FieldGroup *string `bun:"field_group" json:"field_group,omitempty"`

	PageNumber int     `bun:"page_number,notnull,default:1" json:"page_number"`
	FieldOrder int     `bun:"field_order,notnull,default:0" json:"field_order"`
	Confidence float64 `bun:"confidence,notnull,default:0" json:"confidence"`

	ValidationStatus  string `bun:"validation_status,notnull,default:'pending'" json:"validation_status"`
	NeedsManualReview bool   `bun:"needs_manual_review,notnull,default:false" json:"needs_manual_review"`

	BoundingBox       map[string]any `bun:"bounding_box,type:jsonb" json:"bounding_box,omitempty"`
	SectionName       *string        `bun:"section_name" json:"section_name,omitempty"`
	SourceLocation    *string        `bun:"source_location" json:"source_location,omitempty"`
	ExtractionContext *string        `bun:"extraction_context" json:"extraction_context,omitempty"`
	FieldMetadata     map[string]any `bun:"field_metadata,type:jsonb" json:"field_metadata,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// ListParams filters a job's document listing.
type ListParams struct {
	JobID        string
	Skip         int
	Limit        int
	StatusFilter string
}

// ListResult is a page of documents plus the unpaginated total.
type ListResult struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Skip      int         `json:"skip"`
	Limit     int         `json:"limit"`
}

// StatusCounts aggregates a job's documents by status.
type StatusCounts struct {
	Pending     int `json:"pending"`
	Queued      int `json:"queued"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	NeedsReview int `json:"needs_review"`
}

// Total returns the number of documents across all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Queued + c.Processing + c.Completed + c.Failed + c.NeedsReview
}

// Terminal returns the number of documents in terminal states.
func (c StatusCounts) Terminal() int {
	return c.Completed + c.Failed + c.NeedsReview
}
