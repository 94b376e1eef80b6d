package events

import "time"

// EventType identifies the kind of job progress event.
type EventType string

const (
	// EventConnected is sent once per WebSocket connection, immediately
	// after the subscription is registered.
	EventConnected EventType = "connected"
	// EventDocumentStarted is published when a worker claims a document.
	EventDocumentStarted EventType = "document_started"
	// EventFieldExtracted is published per extracted field. High volume;
	// may be throttled or dropped under load.
	EventFieldExtracted EventType = "field_extracted"
	// EventDocumentCompleted is published after a document reaches the
	// completed or needs_review state.
	EventDocumentCompleted EventType = "document_completed"
	// EventDocumentFailed is published after a document terminally fails.
	EventDocumentFailed EventType = "document_failed"
)

// Event is the payload streamed to WebSocket clients watching a bulk job.
// Fields beyond Type/JobID/Timestamp are populated per event type.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	Timestamp string    `json:"timestamp"`

	DocumentID   string `json:"document_id,omitempty"`
	DocumentName string `json:"document_name,omitempty"`

	// document_started payload
	TotalPages int `json:"total_pages,omitempty"`

	// field_extracted payload
	FieldName  string  `json:"field_name,omitempty"`
	FieldValue string  `json:"field_value,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Page       int     `json:"page,omitempty"`

	// document_completed payload
	FieldsExtracted  int   `json:"fields_extracted,omitempty"`
	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`

	// document_failed payload
	Error string `json:"error,omitempty"`
}

// stamp fills in the timestamp if the producer did not set one.
func (e Event) stamp() Event {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e
}

// NewDocumentStarted builds a document_started event.
func NewDocumentStarted(jobID, documentID, documentName string, totalPages int) Event {
	return Event{
		Type:         EventDocumentStarted,
		JobID:        jobID,
		DocumentID:   documentID,
		DocumentName: documentName,
		TotalPages:   totalPages,
	}
}

// NewFieldExtracted builds a field_extracted event.
func NewFieldExtracted(jobID, fieldName, fieldValue string, confidence float64, page int) Event {
	return Event{
		Type:       EventFieldExtracted,
		JobID:      jobID,
		FieldName:  fieldName,
		FieldValue: fieldValue,
		Confidence: confidence,
		Page:       page,
	}
}

// NewDocumentCompleted builds a document_completed event.
func NewDocumentCompleted(jobID, documentID, documentName string, fieldsExtracted int, processingTimeMs int64) Event {
	return Event{
		Type:             EventDocumentCompleted,
		JobID:            jobID,
		DocumentID:       documentID,
		DocumentName:     documentName,
		FieldsExtracted:  fieldsExtracted,
		ProcessingTimeMs: processingTimeMs,
	}
}

// NewDocumentFailed builds a document_failed event.
func NewDocumentFailed(jobID, documentID, documentName, errMsg string) Event {
	return Event{
		Type:         EventDocumentFailed,
		JobID:        jobID,
		DocumentID:   documentID,
		DocumentName: documentName,
		Error:        errMsg,
	}
}

// newConnected builds the handshake event sent when a client attaches.
func newConnected(jobID string) Event {
	return Event{Type: EventConnected, JobID: jobID}.stamp()
}
