// Package normalize converts raw identifier strings into canonical comparison
// keys. A value that fails normalization is simply absent from the relevant
// signal index; rejection is an expected outcome, not an error.
package normalize

import (
	"strings"
	"unicode"
)

// placeholders are literal junk tokens sources emit for missing values.
var placeholders = map[string]bool{
	"null":      true,
	"n/a":       true,
	"na":        true,
	"none":      true,
	"undefined": true,
}

// Email lower-cases and trims a raw email, rejecting empty values, values
// without an @, and literal placeholder tokens.
func Email(raw string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(raw))
	if e == "" || placeholders[e] {
		return "", false
	}
	at := strings.IndexByte(e, '@')
	if at <= 0 || at == len(e)-1 {
		return "", false
	}
	return e, true
}

// Phone strips a raw phone to digits. It rejects values showing evidence of
// column-shift corruption (embedded comma/pipe), URL fragments, or 3+
// consecutive letters, accepts 7-11 digit results, and collapses a leading
// country-code 1 on 11-digit numbers to the 10-digit form.
func Phone(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false
	}
	lower := strings.ToLower(v)
	if strings.Contains(lower, "http") || strings.Contains(lower, "www.") {
		return "", false
	}
	if strings.ContainsAny(v, ",|") {
		return "", false
	}
	runLetters := 0
	var b strings.Builder
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			runLetters = 0
			b.WriteRune(r)
		case unicode.IsLetter(r):
			runLetters++
			if runLetters >= 3 {
				return "", false
			}
		default:
			runLetters = 0
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 11 {
		return "", false
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits, true
}

// NameZipKey builds the weak last-name+zip composite key. Both parts must be
// present: at least two alphabetic characters in the last name and a usable
// 5-digit zip. Callers must apply the group-size and first-name safeguards
// before merging on this key.
func NameZipKey(lastName, zip string) (string, bool) {
	last := strings.ToLower(strings.TrimSpace(lastName))
	alpha := 0
	for _, r := range last {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if alpha < 2 {
		return "", false
	}
	z := zip5(zip)
	if z == "" {
		return "", false
	}
	return last + z, true
}

// zip5 extracts a leading 5-digit zip, tolerating zip+4 suffixes.
func zip5(zip string) string {
	z := strings.TrimSpace(zip)
	if len(z) < 5 {
		return ""
	}
	z = z[:5]
	for i := 0; i < 5; i++ {
		if z[i] < '0' || z[i] > '9' {
			return ""
		}
	}
	return z
}

// streetAbbrev folds the common USPS suffix spellings so "123 Main Street"
// and "123 Main St." land on the same household key.
var streetAbbrev = map[string]string{
	"STREET":    "ST",
	"AVENUE":    "AVE",
	"BOULEVARD": "BLVD",
	"DRIVE":     "DR",
	"LANE":      "LN",
	"ROAD":      "RD",
	"COURT":     "CT",
	"PLACE":     "PL",
	"CIRCLE":    "CIR",
	"TERRACE":   "TER",
	"APARTMENT": "APT",
	"SUITE":     "STE",
	"NORTH":     "N",
	"SOUTH":     "S",
	"EAST":      "E",
	"WEST":      "W",
}

// AddressKey builds the household join key from street line, city, and
// state: uppercased, punctuation stripped, whitespace collapsed, suffix
// spellings folded. An empty street line rejects.
func AddressKey(line1, city, state string) (string, bool) {
	street := foldAddressPart(line1)
	if street == "" {
		return "", false
	}
	return street + "|" + foldAddressPart(city) + "|" + foldAddressPart(state), true
}

func foldAddressPart(raw string) string {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if up == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range up {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		if abbrev, ok := streetAbbrev[w]; ok {
			words[i] = abbrev
		}
	}
	return strings.Join(words, " ")
}

// SurnamePrefix returns the uppercased 3-letter last-name prefix used with
// the address key for householding. Shorter surnames return as-is. Prefixes
// cut on rune boundaries so non-ASCII surnames keep valid comparison keys.
func SurnamePrefix(lastName string) string {
	return runePrefix(strings.ToUpper(strings.TrimSpace(lastName)), 3)
}

// FirstNamePrefix returns the lowercased first three characters of a first
// name for the name+zip safeguard comparison.
func FirstNamePrefix(firstName string) string {
	return runePrefix(strings.ToLower(strings.TrimSpace(firstName)), 3)
}

func runePrefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
