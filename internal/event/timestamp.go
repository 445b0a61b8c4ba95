package event

import (
	"fmt"
	"strings"
	"time"
)

// TSLayout is the canonical bus timestamp: UTC, seconds precision, literal Z.
const TSLayout = "2006-01-02T15:04:05Z"

// FormatTS renders t in the canonical layout.
func FormatTS(t time.Time) string {
	return t.UTC().Format(TSLayout)
}

// ParseTS parses a canonical timestamp. RFC 3339 values with a Z suffix and
// fractional seconds are accepted too, since writers are not uniform.
func ParseTS(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(TSLayout, raw); err == nil {
		return t.UTC(), nil
	}
	if !strings.HasSuffix(raw, "Z") {
		return time.Time{}, fmt.Errorf("timestamp %q is not UTC (missing Z suffix)", raw)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
