package utils

import (
	"fmt"
	"time"
)

// sodaLayouts covers the timestamp shapes the SODA API emits: floating
// timestamps with or without fractional seconds, plus the zoned RFC3339
// variants some datasets use.
var sodaLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseSODATime parses a provider timestamp. Floating (zone-less) values
// are interpreted as UTC, matching how the datasets publish them.
func ParseSODATime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range sodaLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", value)
}

// FormatSODATime renders a timestamp the way $where clauses expect it.
func FormatSODATime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}
