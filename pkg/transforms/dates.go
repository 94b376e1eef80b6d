package transforms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Numeric layouts accepted by DateFormat. Non-padded tokens also parse
// zero-padded input.
var dateLayouts = []string{
	"2-1-2006",
	"2/1/2006",
	"2006-1-2",
}

var textualDateRe = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]+)\s+(\d{4})`)

// English and Indonesian month names, full and abbreviated.
var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January, "januari": time.January,
	"february": time.February, "feb": time.February, "februari": time.February, "pebruari": time.February,
	"march": time.March, "mar": time.March, "maret": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May, "mei": time.May,
	"june": time.June, "jun": time.June, "juni": time.June,
	"july": time.July, "jul": time.July, "juli": time.July,
	"august": time.August, "aug": time.August, "agustus": time.August, "agu": time.August, "agt": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October, "oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November, "nopember": time.November,
	"december": time.December, "dec": time.December, "desember": time.December, "des": time.December,
}

// DateFormat normalizes the common date spellings (DD-MM-YYYY, DD/MM/YYYY,
// YYYY-MM-DD, "17 Agustus 1945", "17 Aug 1945") to DD-MM-YYYY. Empty values
// and bare dashes normalize to ""; anything unparseable passes through
// unchanged.
func DateFormat(value string) string {
	v := strings.TrimSpace(value)
	if v == "" || v == "-" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("02-01-2006")
		}
	}
	if m := textualDateRe.FindStringSubmatch(v); m != nil {
		if month, ok := monthsByName[strings.ToLower(m[2])]; ok {
			day, _ := strconv.Atoi(m[1])
			year, _ := strconv.Atoi(m[3])
			if day >= 1 && day <= 31 {
				return fmt.Sprintf("%02d-%02d-%04d", day, int(month), year)
			}
		}
	}
	return value
}

// ConvertDateFormat reformats value from one date pattern to another. The
// patterns use the character-class tokens DD, MM, YYYY and YY; everything
// else is a literal. Values whose shape does not fit from_format pass
// through unchanged.
func ConvertDateFormat(value string, config Config) string {
	from := config.str("from_format", "")
	to := config.str("to_format", "")
	if from == "" || to == "" {
		return value
	}

	parts := map[string]string{}
	vi := 0
	for fi := 0; fi < len(from); {
		token, width := dateToken(from[fi:])
		if token == "" {
			// literal position, consume one char on both sides
			if vi >= len(value) || value[vi] != from[fi] {
				return value
			}
			vi++
			fi++
			continue
		}
		if vi+width > len(value) || !allDigits(value[vi:vi+width]) {
			return value
		}
		parts[token] = value[vi : vi+width]
		vi += width
		fi += width
	}
	if vi != len(value) {
		return value
	}

	var b strings.Builder
	for ti := 0; ti < len(to); {
		token, width := dateToken(to[ti:])
		if token == "" {
			b.WriteByte(to[ti])
			ti++
			continue
		}
		part, ok := parts[token]
		if !ok && token == "YYYY" {
			if yy, has := parts["YY"]; has {
				part, ok = "20"+yy, true
			}
		}
		if !ok && token == "YY" {
			if yyyy, has := parts["YYYY"]; has {
				part, ok = yyyy[2:], true
			}
		}
		if !ok {
			return value
		}
		b.WriteString(part)
		ti += width
	}
	return b.String()
}

func dateToken(s string) (string, int) {
	switch {
	case strings.HasPrefix(s, "YYYY"):
		return "YYYY", 4
	case strings.HasPrefix(s, "YY"):
		return "YY", 2
	case strings.HasPrefix(s, "DD"):
		return "DD", 2
	case strings.HasPrefix(s, "MM"):
		return "MM", 2
	}
	return "", 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

var yearRe = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

// CalculateYears subtracts the first 4-digit year found in value from the
// configured base year and renders the difference as "<n> year(s)". The
// base_year config accepts a number or "now"; it defaults to the current
// year. Values without a recognizable year pass through unchanged.
func CalculateYears(value string, config Config) string {
	m := yearRe.FindString(value)
	if m == "" {
		return value
	}
	year, _ := strconv.Atoi(m)

	base := time.Now().Year()
	switch b := config["base_year"].(type) {
	case string:
		if b != "" && !strings.EqualFold(b, "now") {
			if n, err := strconv.Atoi(b); err == nil {
				base = n
			}
		}
	case float64:
		base = int(b)
	case int:
		base = b
	}

	years := base - year
	if years < 0 {
		years = 0
	}
	if years == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", years)
}
