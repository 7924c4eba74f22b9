package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// digits with space, NBSP, narrow NBSP, comma or period grouping; never crosses a newline
	groupedDigitsPattern = regexp.MustCompile(`\d[\d \t\x{00a0}\x{202f}.,]*`)
	integerPattern       = regexp.MustCompile(`\d+`)
	postalCodePattern    = regexp.MustCompile(`\b\d{5}\b`)
	nonDigitPattern      = regexp.MustCompile(`\D`)
)

// Address is the result of splitting a free-form location line.
type Address struct {
	Street     string
	City       string
	PostalCode string
}

// ExtractPrice returns the first run of digits with all grouping separators
// stripped. Decimal separators are not recognised: "1 200,50" yields 120050.
func ExtractPrice(text string) int {
	match := groupedDigitsPattern.FindString(text)
	if match == "" {
		return 0
	}

	digits := nonDigitPattern.ReplaceAllString(match, "")
	value, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return value
}

// ExtractInteger returns the first integer run found in text.
func ExtractInteger(text string) (int, bool) {
	match := integerPattern.FindString(text)
	if match == "" {
		return 0, false
	}

	value, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseAddress looks for a 5-digit postal code. The city is whatever follows
// the code up to the next comma or newline; when nothing follows, the text
// preceding the code in the same segment is used. Without a postal code the
// city is the last comma/newline separated segment.
func ParseAddress(text string) Address {
	trimmed := strings.TrimSpace(text)
	addr := Address{Street: trimmed}
	if trimmed == "" {
		return addr
	}

	loc := postalCodePattern.FindStringIndex(trimmed)
	if loc == nil {
		segments := splitSegments(trimmed)
		if len(segments) > 0 {
			addr.City = segments[len(segments)-1]
		}
		return addr
	}

	addr.PostalCode = trimmed[loc[0]:loc[1]]

	rest := trimmed[loc[1]:]
	if end := strings.IndexAny(rest, ",\n"); end >= 0 {
		rest = rest[:end]
	}
	addr.City = strings.TrimSpace(rest)

	if addr.City == "" {
		before := trimmed[:loc[0]]
		if start := strings.LastIndexAny(before, ",\n"); start >= 0 {
			before = before[start+1:]
		}
		addr.City = strings.TrimSpace(before)
	}

	return addr
}

func splitSegments(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
