package templates

import (
	"fmt"
	"strings"

	"github.com/veridoc-ai/veridoc/domain/documents"
)

// Match methods recorded on mappings.
const (
	MatchFieldName  = "field_name"
	MatchFieldLabel = "field_label"
	MatchFieldValue = "value"
)

// Base scores by where the keyword matched. A field matches on its
// name first; the label and value are only consulted when the name
// does not contain the keyword.
const (
	scoreName  = 1.0
	scoreLabel = 0.9
	scoreValue = 0.7
)

// Mapping binds one external column to the extracted field that won
// its keyword scan.
type Mapping struct {
	ExternalColumn string  `json:"external_column"`
	DBFieldName    string  `json:"db_field_name"`
	Confidence     float64 `json:"confidence"`
	SourceLocation string  `json:"source_location,omitempty"`
	MatchMethod    string  `json:"match_method"`
}

// Resolution is the full mapping report for one template application.
type Resolution struct {
	TemplateID      string    `json:"template_id"`
	TotalColumns    int       `json:"total_columns"`
	MappedColumns   int       `json:"mapped_columns"`
	UnmappedColumns int       `json:"unmapped_columns"`
	SuccessRate     float64   `json:"success_rate"`
	Mappings        []Mapping `json:"mappings"`
	Unmapped        []string  `json:"unmapped"`
	Warnings        []string  `json:"warnings"`
}

type columnMatch struct {
	field     *documents.ExtractedField
	score     float64
	method    string
	inSection bool
}

// Resolve maps every template column onto its best-matching extracted
// field. Keywords are scanned in order with decaying weight, so an
// early keyword's match outranks the same-quality match of a later
// one; ties prefer fields in the column's expected_section, then the
// field with the higher extraction confidence, then document order.
func Resolve(t *MappingTemplate, fields []*documents.ExtractedField) *Resolution {
	res := &Resolution{
		TemplateID:   t.ID,
		TotalColumns: len(t.Columns),
		Mappings:     []Mapping{},
		Unmapped:     []string{},
		Warnings:     []string{},
	}
	for _, col := range t.Columns {
		m, ok := resolveColumn(col, fields)
		if !ok {
			res.Unmapped = append(res.Unmapped, col.ExternalColumnName)
			if len(col.SearchKeywords) > 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"column %q: no field matched keywords %s",
					col.ExternalColumnName, strings.Join(col.SearchKeywords, ", ")))
			}
			continue
		}
		res.Mappings = append(res.Mappings, m)
	}
	res.MappedColumns = len(res.Mappings)
	res.UnmappedColumns = len(res.Unmapped)
	if res.TotalColumns > 0 {
		res.SuccessRate = float64(res.MappedColumns) / float64(res.TotalColumns)
	}
	return res
}

func resolveColumn(col TemplateColumn, fields []*documents.ExtractedField) (Mapping, bool) {
	k := len(col.SearchKeywords)
	var best *columnMatch
	for i, keyword := range col.SearchKeywords {
		needle := strings.ToLower(strings.TrimSpace(keyword))
		if needle == "" {
			continue
		}
		weight := 1 - float64(i)/float64(k)
		for _, f := range fields {
			base, method := matchField(f, needle)
			if base == 0 {
				continue
			}
			cand := &columnMatch{
				field:     f,
				score:     base * weight,
				method:    method,
				inSection: inExpectedSection(f, col.ExpectedSection),
			}
			if cand.better(best) {
				best = cand
			}
		}
	}
	if best == nil {
		return Mapping{}, false
	}
	m := Mapping{
		ExternalColumn: col.ExternalColumnName,
		DBFieldName:    best.field.FieldName,
		Confidence:     best.score,
		MatchMethod:    best.method,
	}
	if best.field.SourceLocation != nil {
		m.SourceLocation = *best.field.SourceLocation
	}
	return m, true
}

func matchField(f *documents.ExtractedField, needle string) (float64, string) {
	if strings.Contains(strings.ToLower(f.FieldName), needle) {
		return scoreName, MatchFieldName
	}
	if strings.Contains(strings.ToLower(f.FieldLabel), needle) {
		return scoreLabel, MatchFieldLabel
	}
	if f.FieldValue != nil && strings.Contains(strings.ToLower(*f.FieldValue), needle) {
		return scoreValue, MatchFieldValue
	}
	return 0, ""
}

func inExpectedSection(f *documents.ExtractedField, section string) bool {
	if section == "" || f.SectionName == nil {
		return false
	}
	return strings.EqualFold(*f.SectionName, section)
}

// better reports whether c should replace the current best. Strict
// comparisons keep the earliest candidate on full ties, which is the
// first matching field of the earliest keyword.
func (c *columnMatch) better(best *columnMatch) bool {
	if best == nil {
		return true
	}
	if c.score != best.score {
		return c.score > best.score
	}
	if c.inSection != best.inSection {
		return c.inSection
	}
	return c.field.Confidence > best.field.Confidence
}
