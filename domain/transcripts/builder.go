package transcripts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	pageDelimiterFormat = "--- PAGE %d ---"
	locationContextMax  = 100
)

// PageExtraction is the hierarchical model output for one page group,
// tagged with the group's starting page number. Root must be the parsed
// JSON object returned by the vision model for that group.
type PageExtraction struct {
	Page int
	Root gjson.Result
}

// Build linearizes hierarchical extraction output into a transcript.
//
// The walk is depth-first and deterministic (gjson preserves the key
// order of the source JSON). Non-underscore top-level keys become
// sections; primitives become "  <dotted.path>: <value>" lines; arrays
// of objects become tables with per-cell lines under "path[i]" prefixes.
// Keys prefixed with "_" are model metadata and are skipped.
func Build(pages []PageExtraction) *DocumentTranscript {
	start := time.Now()

	ordered := make([]PageExtraction, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Page < ordered[j].Page })

	t := &DocumentTranscript{
		PageTranscripts: make([]PageTranscript, 0, len(ordered)),
		SectionIndex:    make(map[string]*SectionInfo),
		FieldLocations:  make(map[string]FieldLocation),
	}

	var full []string
	for _, pg := range ordered {
		w := &walker{page: pg.Page, out: t}
		w.lines = append(w.lines, fmt.Sprintf(pageDelimiterFormat, pg.Page))
		w.walkRoot(pg.Root)

		text := strings.Join(w.lines, "\n")
		t.PageTranscripts = append(t.PageTranscripts, PageTranscript{Page: pg.Page, Transcript: text})
		full = append(full, text)
	}

	t.FullTranscript = strings.Join(full, "\n\n")
	t.TotalPages = len(t.PageTranscripts)
	t.TotalSections = len(t.SectionIndex)
	t.GenerationTimeMs = time.Since(start).Milliseconds()
	return t
}

type walker struct {
	page    int
	section string
	lines   []string
	out     *DocumentTranscript
}

func (w *walker) walkRoot(root gjson.Result) {
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if strings.HasPrefix(name, "_") {
			return true
		}
		w.section = name
		w.registerSection(name)
		w.lines = append(w.lines, "## "+name)
		w.walk(name, value)
		return true
	})
}

func (w *walker) walk(path string, v gjson.Result) {
	switch {
	case v.IsObject():
		if tv, ok := typedLeafValue(v); ok {
			w.leaf(path, tv)
			return
		}
		v.ForEach(func(key, child gjson.Result) bool {
			w.walk(path+"."+key.String(), child)
			return true
		})
	case v.IsArray():
		items := v.Array()
		if isTable(items) {
			w.lines = append(w.lines, fmt.Sprintf("Table: %s (%d rows)", path, len(items)))
		}
		for i, item := range items {
			w.walk(fmt.Sprintf("%s[%d]", path, i), item)
		}
	default:
		w.leaf(path, LeafValue(v))
	}
}

func (w *walker) leaf(path, value string) {
	w.lines = append(w.lines, "  "+path+": "+flattenWhitespace(value))

	if _, seen := w.out.FieldLocations[path]; !seen {
		w.out.FieldLocations[path] = FieldLocation{
			Page:    w.page,
			Section: w.section,
			Context: Clip(value, locationContextMax),
		}
	}

	sec := w.out.SectionIndex[w.section]
	if sec != nil && !containsString(sec.Fields, path) {
		sec.Fields = append(sec.Fields, path)
	}
}

func (w *walker) registerSection(name string) {
	sec, ok := w.out.SectionIndex[name]
	if !ok {
		sec = &SectionInfo{}
		w.out.SectionIndex[name] = sec
	}
	if !containsInt(sec.Pages, w.page) {
		sec.Pages = append(sec.Pages, w.page)
	}
}

// typedLeafValue unwraps objects of the form {_type: ..., value: ...}
// (signatures, stamps and similar annotated values) into their value.
func typedLeafValue(v gjson.Result) (string, bool) {
	if !v.Get("_type").Exists() {
		return "", false
	}
	return LeafValue(v.Get("value")), true
}

// isTable reports whether an array should be rendered as a table: every
// element is an object. Column agreement between rows is not required;
// continuation pages may return ragged rows.
func isTable(items []gjson.Result) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.IsObject() {
			return false
		}
	}
	return true
}

// LeafValue renders a scalar JSON value for transcripts and field rows.
// Nulls render as the empty string.
func LeafValue(v gjson.Result) string {
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

// Clip truncates s to at most n runes.
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func flattenWhitespace(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func containsInt(xs []int, want int) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
