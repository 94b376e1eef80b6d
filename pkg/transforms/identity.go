package transforms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nikRe = regexp.MustCompile(`\d{16}`)

// ExtractNIKDOB decodes the birth date embedded in a 16-digit national
// identity number (NIK). Digits 7-12 encode DDMMYY; female records add 40
// to the day. Two-digit years map to 19xx when YY is greater than the last
// two digits of the current year, otherwise 20xx. Values without a 16-digit
// run return "".
//
// The current_year config overrides the century pivot, which keeps the
// mapping stable in tests.
func ExtractNIKDOB(value string, config Config) string {
	nik := nikRe.FindString(strings.ReplaceAll(value, " ", ""))
	if nik == "" {
		return ""
	}
	day, _ := strconv.Atoi(nik[6:8])
	month, _ := strconv.Atoi(nik[8:10])
	yy, _ := strconv.Atoi(nik[10:12])

	if day > 40 {
		day -= 40
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return ""
	}

	currentYear := time.Now().Year()
	switch b := config["current_year"].(type) {
	case string:
		if n, err := strconv.Atoi(b); err == nil {
			currentYear = n
		}
	case float64:
		currentYear = int(b)
	case int:
		currentYear = b
	}
	year := 2000 + yy
	if yy > currentYear%100 {
		year = 1900 + yy
	}
	return fmt.Sprintf("%02d-%02d-%04d", day, month, year)
}

// NIKGender reports "F" when the NIK day field carries the +40 female
// offset, "M" otherwise, and "" when no NIK is present.
func NIKGender(value string) string {
	nik := nikRe.FindString(strings.ReplaceAll(value, " ", ""))
	if nik == "" {
		return ""
	}
	day, _ := strconv.Atoi(nik[6:8])
	if day > 40 {
		return "F"
	}
	return "M"
}

// NormalizeNPWP strips the dots and dashes from an Indonesian tax number and
// drops a trailing ".0" left behind by spreadsheet float coercion.
func NormalizeNPWP(value string) string {
	v := strings.TrimSpace(value)
	v = strings.TrimSuffix(v, ".0")
	v = strings.ReplaceAll(v, ".", "")
	v = strings.ReplaceAll(v, "-", "")
	return v
}

var provinceRe = regexp.MustCompile(`(?i)provinsi\s+([A-Za-z .]+)`)

var provinces = []string{
	"Aceh", "Sumatera Utara", "Sumatera Barat", "Riau", "Kepulauan Riau",
	"Jambi", "Sumatera Selatan", "Bangka Belitung", "Bengkulu", "Lampung",
	"DKI Jakarta", "Jawa Barat", "Banten", "Jawa Tengah", "DI Yogyakarta",
	"Jawa Timur", "Bali", "Nusa Tenggara Barat", "Nusa Tenggara Timur",
	"Kalimantan Barat", "Kalimantan Tengah", "Kalimantan Selatan",
	"Kalimantan Timur", "Kalimantan Utara", "Sulawesi Utara", "Gorontalo",
	"Sulawesi Tengah", "Sulawesi Barat", "Sulawesi Selatan",
	"Sulawesi Tenggara", "Maluku", "Maluku Utara", "Papua", "Papua Barat",
}

var cityRe = regexp.MustCompile(`(?i)(?:kota|kabupaten|kab\.)\s+([A-Za-z .]+)`)

var cities = []string{
	"Jakarta", "Surabaya", "Bandung", "Medan", "Semarang", "Makassar",
	"Palembang", "Tangerang", "Tangerang Selatan", "Depok", "Bekasi",
	"Yogyakarta", "Denpasar", "Malang", "Bogor", "Batam", "Pekanbaru",
	"Padang", "Bandar Lampung", "Balikpapan", "Banjarmasin", "Pontianak",
	"Samarinda", "Surakarta", "Manado",
}

// ExtractProvince pulls the province name following a "PROVINSI" marker,
// falling back to scanning for a known province name. Unmatched values
// return "".
func ExtractProvince(value string) string {
	if m := provinceRe.FindStringSubmatch(value); m != nil {
		captured := trimAtMarkers(m[1], "KOTA", "KABUPATEN", "KAB.", "KECAMATAN")
		if canon := matchKnown(captured, provinces); canon != "" && len(canon) >= len(captured) {
			return canon
		}
		if captured != "" {
			return captured
		}
	}
	return matchKnown(value, provinces)
}

// ExtractCity pulls the city name following a "KOTA"/"KABUPATEN" marker,
// falling back to scanning for a known city name.
func ExtractCity(value string) string {
	if m := cityRe.FindStringSubmatch(value); m != nil {
		captured := trimAtMarkers(m[1], "PROVINSI", "KECAMATAN", "KELURAHAN", "DESA")
		if canon := matchKnown(captured, cities); canon != "" && len(canon) >= len(captured) {
			return canon
		}
		if captured != "" {
			return captured
		}
	}
	return matchKnown(value, cities)
}

func trimAtMarkers(s string, markers ...string) string {
	out := strings.TrimSpace(s)
	for _, marker := range markers {
		if idx := strings.Index(strings.ToUpper(out), marker); idx >= 0 {
			out = strings.TrimSpace(out[:idx])
		}
	}
	return out
}

// matchKnown scans a closed list for a name contained in s, longest names
// first so "Tangerang Selatan" wins over "Tangerang".
func matchKnown(s string, known []string) string {
	upper := strings.ToUpper(s)
	best := ""
	for _, k := range known {
		if strings.Contains(upper, strings.ToUpper(k)) && len(k) > len(best) {
			best = k
		}
	}
	return best
}
