package transforms

import "strings"

// Indonesian magnitude words, longest spellings first so "Jutaan" is not
// left as a dangling "an" after a "Juta" pass.
var currencyUnits = []string{"jutaan", "juta", "ribuan", "ribu", "miliar", "milyar"}

// StripCurrencyUnit removes Indonesian magnitude suffixes (Juta, Jutaan,
// Ribu, Ribuan, Miliar, Milyar) from an amount, keeping everything else:
// "Rp 1.500 Jutaan" becomes "Rp 1.500".
func StripCurrencyUnit(value string) string {
	v := strings.TrimSpace(value)
	for _, unit := range currencyUnits {
		for {
			idx := strings.Index(strings.ToLower(v), unit)
			if idx < 0 {
				break
			}
			v = strings.TrimSpace(strings.TrimSpace(v[:idx]) + " " + strings.TrimSpace(v[idx+len(unit):]))
		}
	}
	return v
}

// CurrencyFormat strips everything but digits and separators, then renders
// the amount with Indonesian grouping: "." between thousands groups and ","
// before the decimal part, padded or truncated to 3 digits.
//
//	"Rp 1.500"  → "1.500"
//	"IDR 2500000" → "2.500.000"
//	"1,5"       → "1,500"
func CurrencyFormat(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	raw := strings.Trim(b.String(), ".,")
	if raw == "" {
		return ""
	}

	intPart := raw
	fracPart := ""
	if i := strings.LastIndex(raw, ","); i >= 0 {
		intPart, fracPart = raw[:i], raw[i+1:]
	}

	digits := strings.ReplaceAll(strings.ReplaceAll(intPart, ".", ""), ",", "")
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	grouped := groupThousands(digits)

	if fracPart == "" {
		return grouped
	}
	frac := strings.ReplaceAll(fracPart, ".", "")
	if len(frac) > 3 {
		frac = frac[:3]
	}
	for len(frac) < 3 {
		frac += "0"
	}
	return grouped + "," + frac
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	first := n % 3
	if first > 0 {
		b.WriteString(digits[:first])
	}
	for i := first; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
