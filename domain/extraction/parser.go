package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/transcripts"
)

// Confidence assignment. The prompt asks the model to list the dotted
// paths of uncertain values in a top-level "_low_confidence_fields"
// array; flagged paths score lowConfidence, everything else
// defaultConfidence. Table cells reconciled in for a page-1 header the
// model never emitted score zero.
const (
	defaultConfidence = 0.95
	lowConfidence     = 0.5
)

const (
	// transactionsKey is the table the bank-statement prompts contract on.
	transactionsKey = "transactions"

	// fieldContextMax clamps the per-field extraction_context column.
	fieldContextMax = 200
)

var (
	errNoJSONObject  = errors.New("response contains no JSON object")
	errMalformedJSON = errors.New("response JSON is malformed")
)

// parseModelJSON extracts the JSON object from a raw model response.
// The system prompt forbids fences and commentary, but providers wrap
// output often enough that stripping here is cheaper than retrying.
func parseModelJSON(text string) (gjson.Result, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return gjson.Result{}, errNoJSONObject
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return gjson.Result{}, errMalformedJSON
	}
	root := gjson.Parse(candidate)
	if !root.IsObject() {
		return gjson.Result{}, errNoJSONObject
	}
	return root, nil
}

// tableHeaders reads the "_table_headers" array a bank-statement
// first-page response must carry. Empty when absent or malformed.
func tableHeaders(root gjson.Result) []string {
	arr := root.Get("_table_headers")
	if !arr.IsArray() {
		return nil
	}
	var headers []string
	for _, h := range arr.Array() {
		if s := strings.TrimSpace(h.String()); s != "" {
			headers = append(headers, s)
		}
	}
	return headers
}

// flattenOptions shapes one batch's field materialization.
type flattenOptions struct {
	// Page is the batch's starting page, stamped on every field.
	Page int
	// TableHeaders, when set, reconciles the transactions table against
	// the page-1 column names: one cell per header per row, extra model
	// columns dropped, missing columns emitted as null review fields.
	TableHeaders []string
	// ReviewThreshold is the confidence floor below which a field is
	// flagged for manual review.
	ReviewThreshold float64
}

// flattenFields linearizes one parsed batch response into field rows.
// It walks the same path grammar as the transcript builder: dotted
// paths for nested objects, "path[i].column" for table cells, typed
// leaves ({_type, value, bbox}) as single rows tagged with their type.
// Underscore-prefixed top-level keys are model metadata, not content.
func flattenFields(root gjson.Result, opts flattenOptions) []*documents.ExtractedField {
	w := &fieldWalker{
		page:      opts.Page,
		threshold: opts.ReviewThreshold,
		lowPaths:  lowConfidencePaths(root),
	}
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if strings.HasPrefix(name, "_") {
			return true
		}
		w.section = name
		if name == transactionsKey && len(opts.TableHeaders) > 0 && value.IsArray() {
			w.walkTransactions(name, value, opts.TableHeaders)
			return true
		}
		w.walk(name, value)
		return true
	})
	return w.fields
}

// assignFieldOrder numbers fields within each page. Callers pass the
// full document's fields concatenated in batch order, so the counter
// preserves intra-batch order and batches sorted by starting page give
// inter-batch order.
func assignFieldOrder(fields []*documents.ExtractedField) {
	counters := make(map[int]int)
	for _, f := range fields {
		f.FieldOrder = counters[f.PageNumber]
		counters[f.PageNumber]++
	}
}

func lowConfidencePaths(root gjson.Result) map[string]bool {
	flagged := root.Get("_low_confidence_fields")
	if !flagged.IsArray() {
		return nil
	}
	paths := make(map[string]bool)
	for _, p := range flagged.Array() {
		if s := p.String(); s != "" {
			paths[s] = true
		}
	}
	return paths
}

type fieldWalker struct {
	page      int
	section   string
	threshold float64
	lowPaths  map[string]bool
	fields    []*documents.ExtractedField
}

func (w *fieldWalker) walk(path string, v gjson.Result) {
	switch {
	case v.IsObject():
		if v.Get("_type").Exists() {
			w.emitTyped(path, v)
			return
		}
		v.ForEach(func(key, child gjson.Result) bool {
			w.walk(path+"."+key.String(), child)
			return true
		})
	case v.IsArray():
		for i, item := range v.Array() {
			w.walk(fmt.Sprintf("%s[%d]", path, i), item)
		}
	default:
		w.emit(path, v, w.confidenceFor(path))
	}
}

// walkTransactions emits exactly one cell per page-1 header per row.
// Continuation pages come back with drifted column names ("Chq/Ref"
// for "Chq./Ref.No."), so cells are located by normalized match and
// persisted under the canonical header. A header with no matching
// column becomes a null field needing review; model columns matching
// no header are dropped.
func (w *fieldWalker) walkTransactions(path string, arr gjson.Result, headers []string) {
	for i, row := range arr.Array() {
		rowPath := fmt.Sprintf("%s[%d]", path, i)
		if !row.IsObject() {
			w.walk(rowPath, row)
			continue
		}
		for _, header := range headers {
			cell, modelKey, ok := matchColumn(row, header)
			if !ok {
				w.emitMissing(rowPath + "." + header)
				continue
			}
			w.emit(rowPath+"."+header, cell, w.confidenceFor(rowPath+"."+modelKey))
		}
	}
}

func (w *fieldWalker) confidenceFor(path string) float64 {
	if w.lowPaths[path] {
		return lowConfidence
	}
	return defaultConfidence
}

func (w *fieldWalker) emit(path string, v gjson.Result, confidence float64) {
	var value *string
	if v.Exists() && v.Type != gjson.Null {
		s := v.String()
		value = &s
	}
	w.append(&documents.ExtractedField{
		FieldName:         path,
		FieldLabel:        labelFor(path),
		FieldType:         inferFieldType(v),
		FieldValue:        value,
		Confidence:        confidence,
		NeedsManualReview: confidence < w.threshold,
	}, v)
}

// emitMissing records a header cell the model never produced: null
// value, zero confidence, always routed to review.
func (w *fieldWalker) emitMissing(path string) {
	w.append(&documents.ExtractedField{
		FieldName:         path,
		FieldLabel:        labelFor(path),
		FieldType:         "text",
		Confidence:        0,
		NeedsManualReview: true,
	}, gjson.Result{})
}

// emitTyped unwraps {_type, value, bbox} annotations (signatures,
// stamps, photos) into one row tagged with the annotated type.
func (w *fieldWalker) emitTyped(path string, v gjson.Result) {
	fieldType := v.Get("_type").String()
	if fieldType == "" {
		fieldType = "text"
	}
	inner := v.Get("value")
	var value *string
	if inner.Exists() && inner.Type != gjson.Null {
		s := inner.String()
		value = &s
	}
	f := &documents.ExtractedField{
		FieldName:         path,
		FieldLabel:        labelFor(path),
		FieldType:         fieldType,
		FieldValue:        value,
		Confidence:        w.confidenceFor(path),
		NeedsManualReview: w.confidenceFor(path) < w.threshold,
	}
	if bbox, ok := v.Get("bbox").Value().(map[string]any); ok {
		f.BoundingBox = bbox
	}
	w.append(f, inner)
}

func (w *fieldWalker) append(f *documents.ExtractedField, v gjson.Result) {
	section := w.section
	location := fmt.Sprintf("page %d · %s", w.page, f.FieldName)
	context := transcripts.Clip(transcripts.LeafValue(v), fieldContextMax)

	f.PageNumber = w.page
	f.SectionName = &section
	f.SourceLocation = &location
	if context != "" {
		f.ExtractionContext = &context
	}
	w.fields = append(w.fields, f)
}

// matchColumn locates a row's cell for a canonical header. Exact key
// match wins, then normalized equality, then normalized containment in
// either direction ("chqref" inside "chqrefno").
func matchColumn(row gjson.Result, header string) (gjson.Result, string, bool) {
	want := normalizeColumn(header)
	best := 0
	var bestVal gjson.Result
	var bestKey string
	row.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		rank := 0
		switch {
		case k == header:
			rank = 3
		case normalizeColumn(k) == want:
			rank = 2
		case want != "" && columnsOverlap(normalizeColumn(k), want):
			rank = 1
		}
		if rank > best {
			best, bestVal, bestKey = rank, value, k
		}
		return best < 3
	})
	return bestVal, bestKey, best > 0
}

// normalizeColumn lowers a header to its alphanumeric skeleton so
// punctuation and spacing drift between pages cannot break matching.
func normalizeColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func columnsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func inferFieldType(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	default:
		return "text"
	}
}

// labelFor derives a display label from the terminal path segment:
// "account_info.account_number" labels as "account number",
// "transactions[3].Deposit Amt." keeps the printed header. Table-cell
// paths split at the "]." boundary because headers may contain dots.
func labelFor(path string) string {
	last := path
	if i := strings.LastIndex(path, "]."); i >= 0 {
		last = path[i+2:]
	} else if i := strings.LastIndexByte(path, '.'); i >= 0 {
		last = path[i+1:]
	}
	if i := strings.IndexByte(last, '['); i > 0 {
		last = last[:i]
	}
	return strings.ReplaceAll(last, "_", " ")
}
