package reviewqueue

import (
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/domain/documents"
)

// Review item status values. An item is open (pending or in_review)
// until a reviewer resolves it or a retry of its document finishes
// somewhere other than needs_review.
const (
	StatusPending  = "pending"
	StatusInReview = "in_review"
	StatusResolved = "resolved"
)

// Reasons recorded by the two automatic enqueue paths. The column is
// free text; these cover extraction flagging and the reconciler sweep.
const (
	ReasonFlaggedFields = "fields flagged for manual review"
	ReasonBackfill      = "needs_review document without a queue item"
)

// ReviewQueueItem is the manual-review ticket for a document that
// finished in needs_review, from ext.review_queue_items. A document has
// at most one item; a document that re-enters needs_review after a
// retry reopens its resolved item instead of growing a second one.
type ReviewQueueItem struct {
	bun.BaseModel `bun:"table:ext.review_queue_items,alias:rqi"`

	ID         string `bun:"id,pk" json:"id"`
	DocumentID string `bun:"document_id,notnull" json:"document_id"`
	JobID      string `bun:"job_id,notnull" json:"job_id"`

	Reason       string  `bun:"reason,notnull" json:"reason"`
	ErrorMessage *string `bun:"error_message" json:"error_message,omitempty"`
	ErrorType    *string `bun:"error_type" json:"error_type,omitempty"`
	Priority     int     `bun:"priority,notnull,default:3" json:"priority"`

	Status string         `bun:"status,notnull,default:'pending'" json:"status"`
	Notes  *string        `bun:"notes" json:"notes,omitempty"`
	Tags   pq.StringArray `bun:"tags,type:text[],notnull,default:'{}'" json:"tags"`

	ResolvedAt *time.Time `bun:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`

	Document *documents.Document `bun:"rel:belongs-to,join:document_id=id" json:"document,omitempty"`
}

// IsOpen reports whether the item still needs a reviewer.
func (i *ReviewQueueItem) IsOpen() bool {
	return i.Status != StatusResolved
}

// ListParams filters the review queue listing.
type ListParams struct {
	Status string
	JobID  string
	Skip   int
	Limit  int
}

// ListResult is a page of review items plus the unpaginated total.
type ListResult struct {
	Items []*ReviewQueueItem `json:"items"`
	Total int                `json:"total"`
	Skip  int                `json:"skip"`
	Limit int                `json:"limit"`
}

// ItemDetail is the review payload for one item: the item with its
// document attached, plus only the fields a reviewer actually has to
// look at.
type ItemDetail struct {
	Item          *ReviewQueueItem            `json:"item"`
	FlaggedFields []*documents.ExtractedField `json:"flagged_fields"`
}

// ResolveRequest carries the reviewer's closing notes.
type ResolveRequest struct {
	Notes string `json:"notes"`
}
