// Package prompts builds the task-specific prompts and response schemas for
// vision extraction calls.
//
// Building a prompt is a pure function of (task, content type, options): the
// same inputs always produce the same text, so extraction runs are
// reproducible. Templates are Handlebars files embedded at build time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/aymerick/raymond"
	"go.uber.org/fx"
)

//go:embed templates/*.hbs
var templatesFS embed.FS

// Module provides the prompt builder.
var Module = fx.Module("prompts",
	fx.Provide(NewBuilder),
)

// Task selects the extraction prompt family.
type Task string

const (
	// TaskGeneric extracts the document's natural hierarchy.
	TaskGeneric Task = "generic"
	// TaskBankStatement extracts bank statements with stable transaction
	// column keys across pages.
	TaskBankStatement Task = "bank_statement"
	// TaskTemplateMatch classifies a document against a template list.
	TaskTemplateMatch Task = "template_match"
	// TaskFieldDiscovery emits a null-valued scaffold of the document's
	// structure for template creation.
	TaskFieldDiscovery Task = "field_discovery"
)

// ContentType states what the model receives alongside the prompt.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// TemplateOption is one candidate in a template-matching prompt.
type TemplateOption struct {
	ID           string
	Name         string
	DocumentType string
	Description  string
}

// Options carries the per-call context for a prompt.
type Options struct {
	// DocumentType hints the document class ("land_certificate", "invoice").
	DocumentType string

	// DocumentText is the inline document content for ContentTypeText calls.
	DocumentText string

	// TableHeaders are the page-1 transaction column names; presence selects
	// the bank-statement continuation prompt.
	TableHeaders []string

	// Templates are the candidates for TaskTemplateMatch.
	Templates []TemplateOption

	// PageStart/PageEnd describe which pages of the document this call
	// covers (1-based, inclusive). Zero values omit the range note.
	PageStart int
	PageEnd   int
}

// Prompt is a ready-to-send prompt with its response schema. Schema is also
// embedded in Text, so providers that cannot enforce schemas still receive
// it.
type Prompt struct {
	System string
	Text   string
	Schema map[string]any
}

const (
	extractionSystem = "You are a precise document data extraction engine. You respond with a single valid JSON object and nothing else: no commentary, no markdown fences."
	matchingSystem   = "You are a document classification engine. You respond with a single valid JSON object and nothing else: no commentary, no markdown fences."
)

// Builder renders prompt templates.
type Builder struct {
	templates map[string]*raymond.Template
}

// NewBuilder parses the embedded templates.
func NewBuilder() (*Builder, error) {
	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	b := &Builder{templates: make(map[string]*raymond.Template, len(entries))}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".hbs") {
			continue
		}
		content, err := templatesFS.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tmpl, err := raymond.Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		b.templates[strings.TrimSuffix(name, ".hbs")] = tmpl
	}
	return b, nil
}

// MustNewBuilder panics on template errors; embedded templates are parsed at
// startup, so a failure is a build defect.
func MustNewBuilder() *Builder {
	b, err := NewBuilder()
	if err != nil {
		panic(err)
	}
	return b
}

// Build renders the prompt for a task. For TaskBankStatement the page-1
// prompt is selected when Options.TableHeaders is empty, the continuation
// prompt otherwise.
func (b *Builder) Build(task Task, contentType ContentType, opts Options) (*Prompt, error) {
	var (
		name   string
		system string
		schema map[string]any
	)
	switch task {
	case TaskGeneric:
		name, system, schema = "generic_extraction", extractionSystem, genericSchema()
	case TaskBankStatement:
		if len(opts.TableHeaders) > 0 {
			name, system, schema = "bank_statement_continuation", extractionSystem, bankContinuationSchema()
		} else {
			name, system, schema = "bank_statement_first", extractionSystem, bankFirstSchema()
		}
	case TaskTemplateMatch:
		name, system, schema = "template_matching", matchingSystem, templateMatchSchema()
	case TaskFieldDiscovery:
		name, system, schema = "field_discovery", extractionSystem, discoverySchema()
	default:
		return nil, fmt.Errorf("unknown prompt task: %s", task)
	}

	tmpl, ok := b.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt template not found: %s", name)
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	text, err := tmpl.Exec(map[string]interface{}{
		"document_type": opts.DocumentType,
		"document_text": opts.DocumentText,
		"is_image":      contentType == ContentTypeImage,
		"table_headers": opts.TableHeaders,
		"templates":     templateMaps(opts.Templates),
		"page_range":    pageRange(opts.PageStart, opts.PageEnd),
		"schema_json":   string(schemaJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", name, err)
	}

	return &Prompt{
		System: system,
		Text:   strings.TrimSpace(text) + "\n",
		Schema: schema,
	}, nil
}

func templateMaps(templates []TemplateOption) []map[string]interface{} {
	out := make([]map[string]interface{}, len(templates))
	for i, t := range templates {
		out[i] = map[string]interface{}{
			"id":            t.ID,
			"name":          t.Name,
			"document_type": t.DocumentType,
			"description":   t.Description,
		}
	}
	return out
}

func pageRange(start, end int) string {
	if start <= 0 {
		return ""
	}
	if end <= start {
		return fmt.Sprintf("page %d", start)
	}
	return fmt.Sprintf("pages %d to %d", start, end)
}

// Response schemas. Every schema allows additional properties so the model
// may emit arbitrary business fields.

func genericSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          "Document content mirroring the source hierarchy. Section headings are top-level keys.",
		"additionalProperties": true,
	}
}

func bankFirstSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"_table_headers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Exact transaction table column headers, in printed order",
			},
			"account_info": map[string]any{
				"type":                 "object",
				"additionalProperties": true,
			},
			"transactions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
			},
		},
		"required":             []string{"_table_headers", "transactions"},
		"additionalProperties": true,
	}
}

func bankContinuationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"transactions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
			},
		},
		"required":             []string{"transactions"},
		"additionalProperties": true,
	}
}

func templateMatchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"matched_template_id": map[string]any{
				"type": []string{"string", "null"},
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"reasoning": map[string]any{
				"type": "string",
			},
		},
		"required":             []string{"matched_template_id", "confidence", "reasoning"},
		"additionalProperties": true,
	}
}

func discoverySchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          "Null-valued scaffold of the document structure. Tables are single-element arrays of null-valued objects.",
		"additionalProperties": true,
	}
}
