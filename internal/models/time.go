package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the persisted timestamp format. It is fixed-width UTC so that
// lexical order equals chronological order in the local cache.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and any RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Hours is a decimal hour amount. The backend serialises decimals as either
// JSON numbers or strings ("2.50").
type Hours float64

func (h *Hours) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*h = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid hours %q: %w", s, err)
	}
	*h = Hours(f)
	return nil
}
