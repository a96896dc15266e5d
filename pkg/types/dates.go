// pkg/types/dates.go
package types

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	isoDate,
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"01/02/2006",
	"2006/01/02",
	"02.01.2006",
	"January 2006",
}

var relativeDate = regexp.MustCompile(`^(a|an|one|\d+)\s+(minute|hour|day|week|month|year)s?\s+ago$`)

// ParseDate converts a scraped date string to YYYY-MM-DD.
// Unparseable input returns ok=false and the caller omits the field.
func ParseDate(raw string, now time.Time) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "Reviewed on ")
	s = strings.TrimPrefix(s, "Posted ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}

	lower := strings.ToLower(s)
	switch lower {
	case "today", "just now":
		return now.Format(isoDate), true
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(isoDate), true
	}

	m := relativeDate.FindStringSubmatch(lower)
	if m == nil {
		return "", false
	}
	n := 1
	if v, err := strconv.Atoi(m[1]); err == nil {
		n = v
	}
	var t time.Time
	switch m[2] {
	case "minute":
		t = now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		t = now.Add(-time.Duration(n) * time.Hour)
	case "day":
		t = now.AddDate(0, 0, -n)
	case "week":
		t = now.AddDate(0, 0, -7*n)
	case "month":
		t = now.AddDate(0, -n, 0)
	case "year":
		t = now.AddDate(-n, 0, 0)
	}
	return t.Format(isoDate), true
}
