// Package transforms implements the post-processing transforms applied to
// extracted field values at export time.
//
// Every transform is a pure function (value, config) → value. Templates can
// be re-applied to the same extraction without side effects.
package transforms

import (
	"regexp"
	"sort"
	"strings"
)

// Config carries the transform-specific settings from a template column's
// post_process_config.
type Config map[string]any

// Apply runs the named transform over value. The second return is false when
// the transform type is unknown; callers should log a warning and keep the
// original value.
func Apply(transformType, value string, config Config) (string, bool) {
	switch transformType {
	case "", "none":
		return value, true
	case "yes_no":
		return YesNo(value, config), true
	case "split_first":
		return SplitFirst(value, config), true
	case "split_second":
		return SplitSecond(value, config), true
	case "date_format":
		return DateFormat(value), true
	case "convert_date_format":
		return ConvertDateFormat(value, config), true
	case "calculate_years", "calculate_years_from_date":
		return CalculateYears(value, config), true
	case "currency_format":
		return CurrencyFormat(value), true
	case "strip_currency_unit":
		return StripCurrencyUnit(value), true
	case "extract_regex":
		return ExtractRegex(value, config), true
	case "extract_number":
		return ExtractNumber(value), true
	case "extract_keyword":
		return ExtractKeyword(value, config), true
	case "extract_reference_number":
		return ExtractReferenceNumber(value), true
	case "extract_nik_dob":
		return ExtractNIKDOB(value, config), true
	case "extract_province":
		return ExtractProvince(value), true
	case "extract_city":
		return ExtractCity(value), true
	case "lookup":
		return Lookup(value, config), true
	case "remove_chars":
		return RemoveChars(value, config), true
	case "remove_prefix":
		return RemovePrefix(value, config), true
	case "remove_suffix":
		return RemoveSuffix(value, config), true
	case "normalize_npwp":
		return NormalizeNPWP(value), true
	case "handle_empty_dash":
		return HandleEmptyDash(value), true
	case "boolean_yes_no":
		return BooleanYesNo(value), true
	case "default_value":
		return DefaultValue(value, config), true
	default:
		return value, false
	}
}

func (c Config) str(key, fallback string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func (c Config) boolean(key string) bool {
	if v, ok := c[key]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return strings.EqualFold(t, "true")
		}
	}
	return false
}

func (c Config) list(key string) []string {
	v, ok := c[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// YesNo maps value to "Y"/"N" by keyword containment. Negative keywords are
// checked before positive ones so "tidak ada sengketa" matches "tidak ada"
// rather than "ada".
func YesNo(value string, config Config) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "y" || v == "n" {
		return strings.ToUpper(v)
	}
	if v == "" {
		return config.str("default", "N")
	}
	for _, kw := range config.list("false_keywords") {
		if kw != "" && strings.Contains(v, strings.ToLower(kw)) {
			return "N"
		}
	}
	for _, kw := range config.list("true_keywords") {
		if kw != "" && strings.Contains(v, strings.ToLower(kw)) {
			return "Y"
		}
	}
	return config.str("default", "N")
}

// SplitFirst returns the trimmed segment before the first separator.
func SplitFirst(value string, config Config) string {
	sep := config.str("separator", "/")
	first, _, _ := strings.Cut(value, sep)
	return strings.TrimSpace(first)
}

// SplitSecond returns the trimmed segment after the first separator, or ""
// when the value has no second segment.
func SplitSecond(value string, config Config) string {
	sep := config.str("separator", "/")
	_, second, found := strings.Cut(value, sep)
	if !found {
		return ""
	}
	return strings.TrimSpace(second)
}

// ExtractRegex returns the first capture group of the configured pattern
// (or the whole match when the pattern has no groups). With last=true the
// last occurrence is used instead of the first.
func ExtractRegex(value string, config Config) string {
	pattern := config.str("pattern", "")
	if pattern == "" {
		return value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value
	}
	matches := re.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return ""
	}
	m := matches[0]
	if config.boolean("last") {
		m = matches[len(matches)-1]
	}
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[0])
}

var numberRe = regexp.MustCompile(`\d[\d.,]*\d|\d`)

// ExtractNumber returns the first numeric token in value, keeping its
// separators.
func ExtractNumber(value string) string {
	return numberRe.FindString(value)
}

// ExtractKeyword returns the first configured keyword contained in value
// (case-insensitive), else the configured default.
func ExtractKeyword(value string, config Config) string {
	v := strings.ToLower(value)
	for _, kw := range config.list("keywords") {
		if kw != "" && strings.Contains(v, strings.ToLower(kw)) {
			return kw
		}
	}
	return config.str("default", "")
}

var referenceRe = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9./-]{4,}`)

// ExtractReferenceNumber pulls the first document reference token — a run of
// letters, digits and ./- separators containing at least one digit, as in
// "123/ABC-IV/2020".
func ExtractReferenceNumber(value string) string {
	for _, cand := range referenceRe.FindAllString(value, -1) {
		if strings.ContainsAny(cand, "0123456789") {
			return strings.Trim(cand, "./-")
		}
	}
	return ""
}

// Lookup maps value through a configured key→value table. Exact
// (case-insensitive) matches win; otherwise the first key contained in the
// value is used (keys scanned in sorted order for determinism); otherwise
// the default, which falls back to the original value.
func Lookup(value string, config Config) string {
	table, _ := config["map"].(map[string]any)
	v := strings.ToLower(strings.TrimSpace(value))

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.ToLower(k) == v {
			if s, ok := table[k].(string); ok {
				return s
			}
		}
	}
	for _, k := range keys {
		if k != "" && strings.Contains(v, strings.ToLower(k)) {
			if s, ok := table[k].(string); ok {
				return s
			}
		}
	}
	return config.str("default", value)
}

// RemoveChars drops every character present in the configured chars string.
func RemoveChars(value string, config Config) string {
	chars := config.str("chars", "")
	if chars == "" {
		return value
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, value)
}

// RemovePrefix strips the configured prefix and trims the remainder.
func RemovePrefix(value string, config Config) string {
	prefix := config.str("prefix", "")
	if prefix == "" {
		return value
	}
	if config.boolean("case_sensitive") {
		if strings.HasPrefix(value, prefix) {
			return strings.TrimSpace(value[len(prefix):])
		}
		return value
	}
	if len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
		return strings.TrimSpace(value[len(prefix):])
	}
	return value
}

// RemoveSuffix strips the configured suffix and trims the remainder.
func RemoveSuffix(value string, config Config) string {
	suffix := config.str("suffix", "")
	if suffix == "" {
		return value
	}
	if config.boolean("case_sensitive") {
		if strings.HasSuffix(value, suffix) {
			return strings.TrimSpace(value[:len(value)-len(suffix)])
		}
		return value
	}
	if len(value) >= len(suffix) && strings.EqualFold(value[len(value)-len(suffix):], suffix) {
		return strings.TrimSpace(value[:len(value)-len(suffix)])
	}
	return value
}

// HandleEmptyDash normalizes placeholder dashes and "n/a" to the empty
// string.
func HandleEmptyDash(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "-", "–", "—", "n/a":
		return ""
	}
	return value
}

// BooleanYesNo renders boolean-ish spellings as "Yes"/"No". Unrecognized
// values pass through unchanged.
func BooleanYesNo(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "y", "ya", "yes", "true", "1":
		return "Yes"
	case "n", "tidak", "no", "false", "0":
		return "No"
	}
	return value
}

// DefaultValue ignores the input and returns the configured value.
func DefaultValue(_ string, config Config) string {
	return config.str("value", "")
}
