package models

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted when reading last_updated back from the store. Values
// written by this service are RFC3339 in UTC; naive ISO values left by older
// writers are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FormatTimestamp renders t as an RFC3339 UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored last_updated value into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// IsFresh reports whether a record stamped lastUpdated is younger than ttl
// at now. Absent or unparsable stamps are never fresh.
func IsFresh(lastUpdated string, now time.Time, ttl time.Duration) bool {
	t, err := ParseTimestamp(lastUpdated)
	if err != nil {
		return false
	}
	return now.Sub(t) < ttl
}
