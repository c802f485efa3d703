package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Validation errors
var (
	ErrEmptyRecordID = errors.New("record ID cannot be empty")
	ErrNilFields     = errors.New("record fields cannot be nil")
	ErrTooManyFields = errors.New("too many record fields")
)

const MaxRecordFields = 200

// RecordEvent is the trigger delivered by an ingestion adapter: a newly
// created record plus the identifier used to correlate notifications.
type RecordEvent struct {
	ID     string `json:"id"`
	Fields Record `json:"fields"`

	// Internal processing metadata
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewRecordEvent wraps a record received from source
func NewRecordEvent(id string, fields Record, source string) *RecordEvent {
	if fields == nil {
		fields = Record{}
	}
	return &RecordEvent{
		ID:         strings.TrimSpace(id),
		Fields:     fields,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
}

// Validate checks the event can be correlated. Field contents are never
// validated here; rules tolerate missing or malformed values.
func (e *RecordEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyRecordID
	}
	if e.Fields == nil {
		return ErrNilFields
	}
	if len(e.Fields) > MaxRecordFields {
		return ErrTooManyFields
	}
	return nil
}

// DecodeRecordJSON reads a record object. The object is either
// {"id": ..., "fields": {...}} or a bare field map with an optional "id".
// Numbers are kept as json.Number so their raw text survives.
func DecodeRecordJSON(data []byte) (id string, fields Record, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return "", nil, err
	}
	if raw == nil {
		return "", nil, ErrNilFields
	}

	id, _ = raw["id"].(string)
	if inner, ok := raw["fields"].(map[string]any); ok {
		return strings.TrimSpace(id), Record(inner), nil
	}
	return strings.TrimSpace(id), Record(raw), nil
}

// DispatchStatus is the outcome of one send attempt
type DispatchStatus string

const (
	StatusSuccess DispatchStatus = "success"
	StatusFailed  DispatchStatus = "failed"
	StatusSkipped DispatchStatus = "skipped"
)

// DispatchResult records what happened on one channel for one message.
// It feeds logs and metrics only.
type DispatchResult struct {
	Channel  string
	RecordID string
	Title    string
	Status   DispatchStatus
	Err      error
	Duration time.Duration
}

// OK reports whether the send succeeded
func (r DispatchResult) OK() bool {
	return r.Status == StatusSuccess
}
