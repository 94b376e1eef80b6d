package exports

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/templates"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/transforms"
)

// TableData is one assembled export: ordered headers plus rows aligned
// to them.
type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// fieldStatuses are the document states that carry extraction output.
var fieldStatuses = []string{documents.StatusCompleted, documents.StatusNeedsReview}

// allStatuses lists every document state for whole-job tables.
var allStatuses = []string{
	documents.StatusPending, documents.StatusQueued, documents.StatusProcessing,
	documents.StatusCompleted, documents.StatusFailed, documents.StatusNeedsReview,
}

// Assembler turns a job's documents and fields into tabular exports.
type Assembler struct {
	docs *documents.Repository
	log  *slog.Logger
}

// NewAssembler creates a new export assembler
func NewAssembler(docs *documents.Repository, log *slog.Logger) *Assembler {
	return &Assembler{
		docs: docs,
		log:  log.With(logger.Scope("exports.assembler")),
	}
}

// FieldTable emits one row per extracted field, documents in discovery
// order, fields in extraction order. This is the granular CSV export.
func (a *Assembler) FieldTable(ctx context.Context, jobID string) (*TableData, error) {
	docs, err := a.docs.ListByStatuses(ctx, jobID, allStatuses)
	if err != nil {
		return nil, err
	}
	fields, err := a.docs.ListFieldsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byDoc := make(map[string][]*documents.ExtractedField, len(docs))
	for _, f := range fields {
		byDoc[f.DocumentID] = append(byDoc[f.DocumentID], f)
	}

	data := &TableData{
		Headers: []string{
			"document", "source_path", "document_status", "page", "section",
			"field_name", "field_label", "field_type", "field_value",
			"confidence", "needs_review",
		},
		Rows: [][]string{},
	}
	for _, doc := range docs {
		for _, f := range byDoc[doc.ID] {
			data.Rows = append(data.Rows, []string{
				doc.Filename,
				doc.SourcePath,
				doc.Status,
				strconv.Itoa(f.PageNumber),
				deref(f.SectionName),
				f.FieldName,
				f.FieldLabel,
				f.FieldType,
				deref(f.FieldValue),
				formatConfidence(f.Confidence),
				strconv.FormatBool(f.NeedsManualReview),
			})
		}
	}
	return data, nil
}

// SummaryTable emits one row per document with its processing telemetry.
func (a *Assembler) SummaryTable(ctx context.Context, jobID string) (*TableData, error) {
	docs, err := a.docs.ListByStatuses(ctx, jobID, allStatuses)
	if err != nil {
		return nil, err
	}

	data := &TableData{
		Headers: []string{
			"document", "source_path", "status", "pages_processed",
			"total_pages", "fields_extracted", "fields_needing_review",
			"average_confidence", "retries", "error",
		},
		Rows: make([][]string, 0, len(docs)),
	}
	for _, doc := range docs {
		avg := ""
		if doc.AverageConfidence != nil {
			avg = formatConfidence(*doc.AverageConfidence)
		}
		data.Rows = append(data.Rows, []string{
			doc.Filename,
			doc.SourcePath,
			doc.Status,
			strconv.Itoa(doc.PagesProcessed),
			strconv.Itoa(doc.TotalPages),
			strconv.Itoa(doc.TotalFieldsExtracted),
			strconv.Itoa(doc.FieldsNeedingReview),
			avg,
			strconv.Itoa(doc.RetryCount),
			deref(doc.ErrorMessage),
		})
	}
	return data, nil
}

// PivotedTable emits one row per extracted document with field names as
// columns. Columns appear in first-seen order across the job, so every
// document's rows align even when later documents carry extra fields.
func (a *Assembler) PivotedTable(ctx context.Context, jobID string) (*TableData, error) {
	docs, err := a.docs.ListByStatuses(ctx, jobID, fieldStatuses)
	if err != nil {
		return nil, err
	}
	fields, err := a.docs.ListFieldsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byDoc := make(map[string]map[string]string, len(docs))
	var columns []string
	seen := map[string]bool{}
	for _, f := range fields {
		if !seen[f.FieldName] {
			seen[f.FieldName] = true
			columns = append(columns, f.FieldName)
		}
		cells := byDoc[f.DocumentID]
		if cells == nil {
			cells = map[string]string{}
			byDoc[f.DocumentID] = cells
		}
		if _, dup := cells[f.FieldName]; !dup {
			cells[f.FieldName] = deref(f.FieldValue)
		}
	}

	data := &TableData{
		Headers: append([]string{"document"}, columns...),
		Rows:    make([][]string, 0, len(docs)),
	}
	for _, doc := range docs {
		row := make([]string, 0, len(data.Headers))
		row = append(row, doc.Filename)
		for _, col := range columns {
			row = append(row, byDoc[doc.ID][col])
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

// TemplateTable emits one row per extracted document shaped by the
// template: columns in template order, values resolved per document and
// passed through the column's transform. expandColumn, when non-empty,
// names a template column whose table-cell matches fan the document out
// into one row per table row.
func (a *Assembler) TemplateTable(ctx context.Context, jobID string, t *templates.MappingTemplate, expandColumn string) (*TableData, error) {
	docs, err := a.docs.ListByStatuses(ctx, jobID, fieldStatuses)
	if err != nil {
		return nil, err
	}

	data := &TableData{
		Headers: make([]string, 0, len(t.Columns)),
		Rows:    [][]string{},
	}
	for _, col := range t.Columns {
		data.Headers = append(data.Headers, col.ExternalColumnName)
	}

	for _, doc := range docs {
		fields, err := a.docs.ListFieldsByDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		rows := a.templateRows(t, fields, expandColumn)
		data.Rows = append(data.Rows, rows...)
	}
	return data, nil
}

// templateRows shapes one document. Without expansion the document is a
// single row; with it, the expanded column's array prefix yields one row
// per array element, constant columns repeated.
func (a *Assembler) templateRows(t *templates.MappingTemplate, fields []*documents.ExtractedField, expandColumn string) [][]string {
	res := templates.Resolve(t, fields)
	mapped := make(map[string]templates.Mapping, len(res.Mappings))
	for _, m := range res.Mappings {
		mapped[m.ExternalColumn] = m
	}
	valueByName := make(map[string]*documents.ExtractedField, len(fields))
	for _, f := range fields {
		if _, dup := valueByName[f.FieldName]; !dup {
			valueByName[f.FieldName] = f
		}
	}

	base := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		base[i] = a.cellValue(col, mapped, valueByName)
	}

	if expandColumn == "" {
		return [][]string{base}
	}
	idx := columnIndex(t, expandColumn)
	if idx < 0 {
		return [][]string{base}
	}
	m, ok := mapped[expandColumn]
	if !ok {
		return [][]string{base}
	}
	prefix, suffix, isArray := splitArrayPath(m.DBFieldName)
	if !isArray {
		return [][]string{base}
	}

	col := t.Columns[idx]
	var rows [][]string
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s[%d]%s", prefix, i, suffix)
		f, ok := valueByName[name]
		if !ok {
			break
		}
		row := make([]string, len(base))
		copy(row, base)
		row[idx] = a.transform(col, deref(f.FieldValue))
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return [][]string{base}
	}
	return rows
}

// cellValue resolves one column for one document: mapped value through
// the transform, default when unmapped or null.
func (a *Assembler) cellValue(col templates.TemplateColumn, mapped map[string]templates.Mapping, valueByName map[string]*documents.ExtractedField) string {
	m, ok := mapped[col.ExternalColumnName]
	if !ok {
		return col.DefaultValue
	}
	f := valueByName[m.DBFieldName]
	if f == nil || f.FieldValue == nil {
		if col.DefaultValue != "" {
			return col.DefaultValue
		}
		return a.transform(col, "")
	}
	return a.transform(col, *f.FieldValue)
}

func (a *Assembler) transform(col templates.TemplateColumn, value string) string {
	out, known := transforms.Apply(col.PostProcessType, value, transforms.Config(col.PostProcessConfig))
	if !known {
		a.log.Warn("unknown transform type, passing value through",
			"transform", col.PostProcessType,
			"column", col.ExternalColumnName)
		return value
	}
	return out
}

func columnIndex(t *templates.MappingTemplate, external string) int {
	for i, col := range t.Columns {
		if col.ExternalColumnName == external {
			return i
		}
	}
	return -1
}

var arrayPathRe = regexp.MustCompile(`^(.+?)\[(\d+)\](.*)$`)

// splitArrayPath decomposes "transactions[4].Deposit Amt." into
// ("transactions", ".Deposit Amt."). Non-array paths report false.
func splitArrayPath(path string) (prefix, suffix string, ok bool) {
	m := arrayPathRe.FindStringSubmatch(path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[3], true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatConfidence(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}
