// Package phone normalizes free-typed phone numbers into a canonical display form.
//
// Formatting is idempotent and never fails: input that cannot be recognized with
// confidence is returned exactly as typed.
package phone

import (
	"regexp"
	"strings"
)

// Info describes a formatted phone number.
type Info struct {
	Formatted   string
	Valid       bool
	CountryCode string
	AreaCode    string
	Number      string
	Extension   string
}

var (
	extensionPattern   = regexp.MustCompile(`(?i)^(.*\d)[\s,]*(?:x|ext\.?|extension)\s*(\d{1,6})$`)
	countryCodePattern = regexp.MustCompile(`^\+(\d{1,4})`)
	digitGroups        = regexp.MustCompile(`\d+`)
	domesticChars      = regexp.MustCompile(`^[0-9\s().\-]+$`)
	internationalChars = regexp.MustCompile(`^\+[0-9\s().\-]+$`)
)

// Format returns the canonical rendering of raw.
//
//	1234567890        -> (123) 456-7890
//	11234567890       -> +1 (123) 456-7890
//	555.1234          -> 555-1234
//	+44 20 7946 0958  -> +44 20 7946 0958
//	123-456-7890x12   -> (123) 456-7890 ext. 12
func Format(raw string) Info {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Info{Formatted: raw}
	}

	base, extension := splitExtension(trimmed)

	var (
		info Info
		ok   bool
	)
	if strings.HasPrefix(base, "+") {
		info, ok = formatInternational(base)
	} else {
		info, ok = formatDomestic(base)
	}
	if !ok {
		return Info{Formatted: raw}
	}

	if extension != "" {
		info.Extension = extension
		info.Formatted += " ext. " + extension
	}
	info.Valid = true
	return info
}

// Valid reports whether raw is a complete, recognizable phone number.
func Valid(raw string) bool {
	return Format(raw).Valid
}

// FormatAsTyped formats value while the user types. Deletions and short
// prefixes are left alone so the cursor does not jump mid-edit.
func FormatAsTyped(value, previous string) string {
	if len(value) < len(previous) {
		return value
	}
	if len(value) < 7 {
		return value
	}
	return Format(value).Formatted
}

func splitExtension(value string) (string, string) {
	match := extensionPattern.FindStringSubmatch(value)
	if match == nil {
		return value, ""
	}
	return strings.TrimSpace(match[1]), match[2]
}

func formatDomestic(value string) (Info, bool) {
	if !domesticChars.MatchString(value) {
		return Info{}, false
	}
	digits := strings.Join(digitGroups.FindAllString(value, -1), "")

	switch {
	case len(digits) == 11 && digits[0] == '1':
		return nanp(digits[1:], "1"), true
	case len(digits) == 10:
		return nanp(digits, ""), true
	case len(digits) == 7:
		number := digits[:3] + "-" + digits[3:]
		return Info{Formatted: number, Number: number}, true
	default:
		return Info{}, false
	}
}

func formatInternational(value string) (Info, bool) {
	if !internationalChars.MatchString(value) {
		return Info{}, false
	}
	match := countryCodePattern.FindStringSubmatch(value)
	if match == nil {
		return Info{}, false
	}
	countryCode := match[1]

	groups := digitGroups.FindAllString(value, -1)
	national := make([]string, 0, len(groups))
	if rest := groups[0][len(countryCode):]; rest != "" {
		national = append(national, rest)
	}
	national = append(national, groups[1:]...)
	digits := strings.Join(national, "")

	if countryCode == "1" && len(digits) == 10 {
		return nanp(digits, "1"), true
	}
	if len(digits) < 8 || len(digits) > 15 {
		return Info{}, false
	}
	if len(national) == 1 {
		national = chunk(digits, 4)
	}
	number := strings.Join(national, " ")
	return Info{
		Formatted:   "+" + countryCode + " " + number,
		CountryCode: countryCode,
		Number:      number,
	}, true
}

// nanp renders a 10-digit North American number, optionally with its +1 prefix.
func nanp(digits, countryCode string) Info {
	area := digits[:3]
	number := digits[3:6] + "-" + digits[6:]
	formatted := "(" + area + ") " + number
	if countryCode != "" {
		formatted = "+" + countryCode + " " + formatted
	}
	return Info{
		Formatted:   formatted,
		CountryCode: countryCode,
		AreaCode:    area,
		Number:      number,
	}
}

func chunk(digits string, size int) []string {
	parts := make([]string, 0, len(digits)/size+1)
	for len(digits) > size {
		parts = append(parts, digits[:size])
		digits = digits[size:]
	}
	if digits != "" {
		parts = append(parts, digits)
	}
	return parts
}
