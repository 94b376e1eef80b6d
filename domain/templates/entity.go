package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Data types a template column may declare.
const (
	DataTypeText     = "text"
	DataTypeNumber   = "number"
	DataTypeDate     = "date"
	DataTypeCurrency = "currency"
	DataTypeYesNo    = "yes_no"
)

// MappingTemplate maps external column names (spreadsheet headers) onto
// extraction lookups plus post-processing transforms. Templates are
// independent of jobs: they are applied at export time and never mutate
// extraction output.
type MappingTemplate struct {
	bun.BaseModel `bun:"table:ext.mapping_templates,alias:mt"`

	ID           string           `bun:"id,pk" json:"id"`
	Name         string           `bun:"name,notnull" json:"name"`
	DocumentType *string          `bun:"document_type" json:"document_type,omitempty"`
	Description  string           `bun:"description,notnull,default:''" json:"description"`
	Columns      []TemplateColumn `bun:"columns,type:jsonb" json:"columns"`
	IsDefault    bool             `bun:"is_default,notnull,default:false" json:"is_default"`
	CreatedBy    *string          `bun:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time        `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`
	UpdatedAt    time.Time        `bun:"updated_at,nullzero,notnull,default:now()" json:"updated_at"`
}

// TemplateColumn is one output column: where to find the value
// (search keywords scanned in order) and how to shape it at export.
type TemplateColumn struct {
	ExternalColumnName string         `json:"external_column_name" yaml:"external_column_name"`
	SearchKeywords     []string       `json:"search_keywords" yaml:"search_keywords"`
	ExtractionHint     string         `json:"extraction_hint,omitempty" yaml:"extraction_hint"`
	ExpectedSection    string         `json:"expected_section,omitempty" yaml:"expected_section"`
	DataType           string         `json:"data_type,omitempty" yaml:"data_type"`
	PostProcessType    string         `json:"post_process_type,omitempty" yaml:"post_process_type"`
	PostProcessConfig  map[string]any `json:"post_process_config,omitempty" yaml:"post_process_config"`
	DefaultValue       string         `json:"default_value,omitempty" yaml:"default_value"`
	ExampleValue       string         `json:"example_value,omitempty" yaml:"example_value"`
}

// CreateTemplateRequest is the template creation payload.
type CreateTemplateRequest struct {
	Name         string           `json:"name"`
	DocumentType *string          `json:"document_type"`
	Description  string           `json:"description"`
	Columns      []TemplateColumn `json:"columns"`
	CreatedBy    *string          `json:"created_by"`
}

func validDataType(t string) bool {
	switch t {
	case DataTypeText, DataTypeNumber, DataTypeDate, DataTypeCurrency, DataTypeYesNo:
		return true
	}
	return false
}

// Validate checks a template definition before persistence.
func (t *MappingTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	seen := make(map[string]bool, len(t.Columns))
	for i, col := range t.Columns {
		name := strings.TrimSpace(col.ExternalColumnName)
		if name == "" {
			return fmt.Errorf("column %d: external_column_name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		if len(col.SearchKeywords) == 0 && col.DefaultValue == "" && col.PostProcessType != "default_value" {
			return fmt.Errorf("column %q: search_keywords or a default_value is required", name)
		}
		if col.DataType != "" && !validDataType(col.DataType) {
			return fmt.Errorf("column %q: unknown data_type %q", name, col.DataType)
		}
	}
	return nil
}
