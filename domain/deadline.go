package domain

import (
	"strings"
	"time"
)

var deadlineLayouts = []string{"2006-01-02", "02/01/2006"}

// ParseDeadline accepts RFC 3339 timestamps, ISO dates and dd/mm/yyyy dates.
// Dates without a clock time are placed at midnight in loc.
func ParseDeadline(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &ValidationError{Field: "deadline", Reason: "is required"}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "deadline", Reason: "unrecognised date " + raw}
}
