// Package clock provides the float-epoch timestamp representation used on the
// wire and in the database, plus shared time parsing and formatting helpers.
package clock

import (
	"fmt"
	"time"
)

// Now returns the current time as floating-point seconds since the epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// isoLayouts are the accepted due-date formats, tried in order.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseISO validates an ISO-8601 date or datetime string and returns it
// unchanged. Lexicographic order of accepted values is chronological.
func ParseISO(s string) (string, error) {
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid ISO-8601 date: %q", s)
}

// Uptime formats the elapsed time since start as "{h}h {m}m".
func Uptime(start time.Time) string {
	elapsed := time.Since(start)
	hours := int(elapsed.Hours())
	minutes := int(elapsed.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
