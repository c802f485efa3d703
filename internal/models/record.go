package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Record types understood by the rule catalog
const (
	TypeFridge   = "fridge"
	TypeOven     = "oven"
	TypeAllergen = "allergen"
	TypeInvoice  = "invoice"
)

// Record is one inspection/log entry as a field map. The shape varies with
// the "type" field; every accessor tolerates missing or malformed values.
type Record map[string]any

// Raw returns the value stored under key
func (r Record) Raw(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[key]
	return v, ok
}

// Has reports whether key is present with a non-nil value
func (r Record) Has(key string) bool {
	v, ok := r.Raw(key)
	return ok && v != nil
}

// Type returns the record discriminant, or "" when it is absent or not a string
func (r Record) Type() string {
	s, _ := r["type"].(string)
	return s
}

// String renders the value under key as text. Absent and nil values render
// as "".
func (r Record) String(key string) string {
	v, ok := r.Raw(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Float parses the value under key as a finite decimal number. Strings
// are read up to the end of their leading number, so "7.5°C" is 7.5.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r.Raw(key)
	if !ok || v == nil {
		return 0, false
	}

	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := leadingFloat(t)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// leadingFloat parses the longest decimal number at the start of s after
// leading whitespace: an optional sign, digits with an optional fraction,
// and an optional exponent. "0x10" reads as 0 and named values such as
// "Inf" are unreadable.
func leadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	end := i

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}

	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Bool returns the value under key when it is a real boolean. Strings such
// as "false" are not booleans.
func (r Record) Bool(key string) (value bool, ok bool) {
	v, present := r.Raw(key)
	if !present {
		return false, false
	}
	value, ok = v.(bool)
	return value, ok
}

// Time parses the value under key as a calendar date
func (r Record) Time(key string) (time.Time, bool) {
	v, ok := r.Raw(key)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, err := ParseDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Alert is a human-readable title/body pair describing a compliance issue.
// Severity is derived from the text later, never stored.
type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AlertBatch holds the alerts produced for one record, in catalog order
type AlertBatch []Alert
