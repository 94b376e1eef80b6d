package tasks

import (
	"time"

	"github.com/uptrace/bun"
)

// DiscoveryTask is one queued source-enumeration run, from
// ext.discovery_tasks. A bulk job has at most one live discovery task.
type DiscoveryTask struct {
	bun.BaseModel `bun:"table:ext.discovery_tasks,alias:dt"`

	ID      string         `bun:"id,pk" json:"id"`
	JobID   string         `bun:"job_id,notnull" json:"job_id"`
	Payload map[string]any `bun:"payload,type:jsonb" json:"payload,omitempty"`

	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	Priority     int        `bun:"priority,notnull,default:3" json:"priority"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0" json:"attempt_count"`
	LastError    *string    `bun:"last_error" json:"last_error,omitempty"`
	ScheduledAt  time.Time  `bun:"scheduled_at,notnull,default:now()" json:"scheduled_at"`
	StartedAt    *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// ExtractionTask is one queued per-document extraction run, from
// ext.extraction_tasks.
type ExtractionTask struct {
	bun.BaseModel `bun:"table:ext.extraction_tasks,alias:et"`

	ID         string         `bun:"id,pk" json:"id"`
	JobID      string         `bun:"job_id,notnull" json:"job_id"`
	DocumentID string         `bun:"document_id,notnull" json:"document_id"`
	Payload    map[string]any `bun:"payload,type:jsonb" json:"payload,omitempty"`

	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	Priority     int        `bun:"priority,notnull,default:3" json:"priority"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0" json:"attempt_count"`
	LastError    *string    `bun:"last_error" json:"last_error,omitempty"`
	ScheduledAt  time.Time  `bun:"scheduled_at,notnull,default:now()" json:"scheduled_at"`
	StartedAt    *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// QueueMetrics aggregates both task queues for the metrics endpoint.
type QueueMetrics struct {
	Discovery  QueueSnapshot `json:"discovery"`
	Extraction QueueSnapshot `json:"extraction"`
}

// QueueSnapshot is one queue's per-status task counts.
type QueueSnapshot struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}
