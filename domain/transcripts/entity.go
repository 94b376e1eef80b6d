package transcripts

import (
	"time"

	"github.com/uptrace/bun"
)

// PageTranscript is the rendered transcript text for one page group.
type PageTranscript struct {
	Page       int    `json:"page"`
	Transcript string `json:"transcript"`
}

// SectionInfo records where a section appears and which fields it holds.
type SectionInfo struct {
	Pages  []int    `json:"pages"`
	Fields []string `json:"fields"`
}

// FieldLocation points a dotted field path back to its place in the
// document. Context carries the first 100 characters of the value.
type FieldLocation struct {
	Page    int    `json:"page"`
	Section string `json:"section"`
	Context string `json:"context"`
}

// DocumentTranscript is the searchable linearization of one document's
// hierarchical extraction output, from ext.document_transcripts.
type DocumentTranscript struct {
	bun.BaseModel `bun:"table:ext.document_transcripts"`

	ID               string                   `bun:"id,pk" json:"id"`
	DocumentID       string                   `bun:"document_id" json:"document_id"`
	FullTranscript   string                   `bun:"full_transcript" json:"full_transcript"`
	PageTranscripts  []PageTranscript         `bun:"page_transcripts,type:jsonb" json:"page_transcripts"`
	SectionIndex     map[string]*SectionInfo  `bun:"section_index,type:jsonb" json:"section_index"`
	FieldLocations   map[string]FieldLocation `bun:"field_locations,type:jsonb" json:"field_locations"`
	TotalPages       int                      `bun:"total_pages" json:"total_pages"`
	TotalSections    int                      `bun:"total_sections" json:"total_sections"`
	GenerationTimeMs int64                    `bun:"generation_time_ms" json:"generation_time_ms"`
	CreatedAt        time.Time                `bun:"created_at" json:"created_at"`
	UpdatedAt        time.Time                `bun:"updated_at" json:"updated_at"`
}
