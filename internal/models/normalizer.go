package models

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a value cannot be read as a calendar date
var ErrInvalidDate = errors.New("invalid date format")

// SupportedDateFormats lists the layouts we attempt to parse, in order.
// Layouts without a zone are read as UTC.
var SupportedDateFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	time.RFC1123,
	time.RFC1123Z,
	time.UnixDate,
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseDate reads a record value as a point in time. It accepts time
// values, epoch milliseconds and strings in SupportedDateFormats.
func ParseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, ErrInvalidDate
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, ErrInvalidDate
		}
		return t.UTC(), nil
	case string:
		return parseDateString(t)
	case json.Number:
		ms, err := t.Float64()
		if err != nil {
			return parseDateString(t.String())
		}
		return fromEpochMillis(ms)
	case float64:
		return fromEpochMillis(t)
	case int64:
		return fromEpochMillis(float64(t))
	case int:
		return fromEpochMillis(float64(t))
	default:
		return time.Time{}, ErrInvalidDate
	}
}

func parseDateString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}

	for _, format := range SupportedDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

// maxEpochMillis bounds epoch values to ±100,000,000 days, the range a
// calendar date can take in the record sources.
const maxEpochMillis = 8.64e15

func fromEpochMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms == 0 || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, ErrInvalidDate
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
