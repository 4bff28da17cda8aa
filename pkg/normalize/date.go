package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateKind tags which of the feed's historical date shapes a raw value had.
// All three shapes are live in backfilled data, so every branch must stay.
type DateKind int

const (
	// DateCalendar is the 8-digit YYYYMMDD shape.
	DateCalendar DateKind = iota
	// DateROC is the 7-digit regional-era shape (year offset 1911).
	DateROC
	// DateDelimited is a pre-formatted date containing '/' or '-'.
	DateDelimited
)

// rocEraOffset converts a Republic-of-China year to a calendar year.
const rocEraOffset = 1911

// ParsedDate is the typed result of parsing one raw feed date.
// Value is always rendered as calendar YYYY-MM-DD.
type ParsedDate struct {
	Kind  DateKind
	Value string
}

var delimitedLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
}

// ParseFeedDate converts one raw date cell into its canonical form.
// The second return is false when the value matches none of the three
// supported shapes; callers drop the row in that case.
func ParseFeedDate(raw string) (ParsedDate, bool) {
	s := strings.TrimSpace(raw)

	switch {
	case len(s) == 8 && allDigits(s):
		// Already calendar-era, sliced directly.
		return ParsedDate{
			Kind:  DateCalendar,
			Value: fmt.Sprintf("%s-%s-%s", s[:4], s[4:6], s[6:]),
		}, true

	case len(s) == 7 && allDigits(s):
		// Regional-era year in the leading digits, month/day in the rest.
		year, err := strconv.Atoi(s[:len(s)-4])
		if err != nil {
			return ParsedDate{}, false
		}
		return ParsedDate{
			Kind:  DateROC,
			Value: fmt.Sprintf("%d-%s-%s", year+rocEraOffset, s[len(s)-4:len(s)-2], s[len(s)-2:]),
		}, true

	case strings.ContainsAny(s, "/-"):
		for _, layout := range delimitedLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return ParsedDate{Kind: DateDelimited, Value: t.Format("2006-01-02")}, true
			}
		}
		return ParsedDate{}, false

	default:
		return ParsedDate{}, false
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
