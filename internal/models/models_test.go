package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   any
		want    time.Time
		wantErr bool
	}{
		{"date only", "2025-03-01", want, false},
		{"rfc3339", "2025-03-01T00:00:00Z", want, false},
		{"rfc3339 offset", "2025-03-01T02:00:00+02:00", want, false},
		{"zoneless read as utc", "2025-03-01 00:00:00", want, false},
		{"slashes", "2025/03/01", want, false},
		{"no seconds", "2025-03-01T00:00", want, false},
		{"no seconds spaced", "2025-03-01 00:00", want, false},
		{"us date", "03/01/2025", want, false},
		{"us date unpadded", "3/1/2025", want, false},
		{"us date with time", "3/1/2025 00:00:00", want, false},
		{"long form", "March 1, 2025", want, false},
		{"padded", "  2025-03-01 ", want, false},
		{"time value", want, want, false},
		{"epoch millis", float64(want.UnixMilli()), want, false},
		{"epoch millis number", json.Number("1740787200000"), want, false},
		{"garbage", "not a date", time.Time{}, true},
		{"empty", "", time.Time{}, true},
		{"zero epoch", float64(0), time.Time{}, true},
		{"huge epoch", 1e300, time.Time{}, true},
		{"huge negative epoch", -1e300, time.Time{}, true},
		{"just past range", 8.64e15 + 1, time.Time{}, true},
		{"huge epoch number", json.Number("1e300"), time.Time{}, true},
		{"range limit", 8.64e15, time.UnixMilli(8.64e15).UTC(), false},
		{"zero time", time.Time{}, time.Time{}, true},
		{"bool", true, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDate) {
					t.Fatalf("expected ErrInvalidDate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%v): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRecordFloat(t *testing.T) {
	rec := Record{
		"num":     7.5,
		"int":     3,
		"str":     " 9 ",
		"json":    json.Number("4.25"),
		"partial": "7.5abc",
		"celsius": "7.5°C",
		"spaced":  "\t-3.25 C",
		"exp":     "1.5e2x",
		"bare e":  "2e",
		"dot":     ".5",
		"hex":     "0x10",
		"huge":    "1e400",
		"nan":     "NaN",
		"inf":     "Infinity",
		"unit":    "°C 7",
		"bool":    true,
		"nil":     nil,
	}

	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{"num", 7.5, true},
		{"int", 3, true},
		{"str", 9, true},
		{"json", 4.25, true},
		{"partial", 7.5, true},
		{"celsius", 7.5, true},
		{"spaced", -3.25, true},
		{"exp", 150, true},
		{"bare e", 2, true},
		{"dot", 0.5, true},
		{"hex", 0, true},
		{"huge", 0, false},
		{"nan", 0, false},
		{"inf", 0, false},
		{"unit", 0, false},
		{"bool", 0, false},
		{"nil", 0, false},
		{"missing", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := rec.Float(tt.key)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Float(%q) = %v, %v; want %v, %v", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"type":    "fridge",
		"temp":    json.Number("7.50"),
		"flag":    true,
		"strflag": "true",
		"nothing": nil,
	}

	if rec.Type() != TypeFridge {
		t.Errorf("unexpected type %q", rec.Type())
	}
	if rec.String("temp") != "7.50" {
		t.Errorf("expected raw number text, got %q", rec.String("temp"))
	}
	if rec.String("nothing") != "" || rec.String("missing") != "" {
		t.Error("expected absent values to render empty")
	}
	if rec.Has("nothing") || !rec.Has("flag") {
		t.Error("Has should ignore nil values")
	}
	if v, ok := rec.Bool("flag"); !ok || !v {
		t.Error("expected real boolean")
	}
	if _, ok := rec.Bool("strflag"); ok {
		t.Error("string should not read as boolean")
	}

	var nilRec Record
	if nilRec.Type() != "" || nilRec.Has("type") {
		t.Error("nil record should be empty")
	}
}

func TestDecodeRecordJSON(t *testing.T) {
	id, fields, err := DecodeRecordJSON([]byte(`{"id":" doc-1 ","fields":{"type":"oven","temp":55}}`))
	if err != nil {
		t.Fatalf("decode wrapped: %v", err)
	}
	if id != "doc-1" || fields.Type() != TypeOven || fields.Has("id") {
		t.Errorf("unexpected wrapped decode %q %v", id, fields)
	}

	id, fields, err = DecodeRecordJSON([]byte(`{"type":"allergen","peanuts":true}`))
	if err != nil {
		t.Fatalf("decode bare: %v", err)
	}
	if id != "" || fields.Type() != TypeAllergen {
		t.Errorf("unexpected bare decode %q %v", id, fields)
	}

	if _, _, err := DecodeRecordJSON([]byte(`null`)); !errors.Is(err, ErrNilFields) {
		t.Errorf("expected ErrNilFields, got %v", err)
	}
	if _, _, err := DecodeRecordJSON([]byte(`[1]`)); err == nil {
		t.Error("expected error for array")
	}
}

func TestRecordEventValidate(t *testing.T) {
	if err := NewRecordEvent(" ", Record{}, "test").Validate(); !errors.Is(err, ErrEmptyRecordID) {
		t.Errorf("expected ErrEmptyRecordID, got %v", err)
	}
	if err := NewRecordEvent("a", nil, "test").Validate(); err != nil {
		t.Errorf("nil fields should be replaced, got %v", err)
	}

	big := Record{}
	for i := 0; i <= MaxRecordFields; i++ {
		big[strings.Repeat("k", i+1)] = i
	}
	if err := NewRecordEvent("a", big, "test").Validate(); !errors.Is(err, ErrTooManyFields) {
		t.Errorf("expected ErrTooManyFields, got %v", err)
	}
}
