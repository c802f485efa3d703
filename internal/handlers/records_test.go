package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"safewatch/internal/models"
)

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, RecordsResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp RecordsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestRecordsHandler_Single(t *testing.T) {
	events := make(chan *models.RecordEvent, 10)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	rec, resp := post(t, h, `{"id":"doc-1","fields":{"type":"fridge","temp":7.5}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Accepted != 1 || resp.Rejected != 0 || !resp.Success {
		t.Errorf("unexpected response %+v", resp)
	}

	ev := <-events
	if ev.ID != "doc-1" || ev.Fields.Type() != models.TypeFridge || ev.Source != "http" {
		t.Errorf("unexpected event %+v", ev)
	}
	if f, ok := ev.Fields.Float("temp"); !ok || f != 7.5 {
		t.Errorf("expected temp 7.5, got %v %v", f, ok)
	}
}

func TestRecordsHandler_Batch(t *testing.T) {
	events := make(chan *models.RecordEvent, 10)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	body := `{"records":[{"id":"a","type":"oven","temp":55},{"type":"allergen","peanuts":true},null]}`
	rec, resp := post(t, h, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if resp.Accepted != 2 || resp.Rejected != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Errors[0].Index != 2 {
		t.Errorf("expected record 2 rejected, got %+v", resp.Errors)
	}

	first := <-events
	second := <-events
	if first.ID != "a" {
		t.Errorf("expected id a, got %q", first.ID)
	}
	// Records without an id get a generated one
	if second.ID == "" || second.ID != resp.IDs[1] {
		t.Errorf("expected generated id %q, got %q", resp.IDs[1], second.ID)
	}
}

func TestRecordsHandler_Array(t *testing.T) {
	events := make(chan *models.RecordEvent, 10)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	_, resp := post(t, h, `[{"id":"x","type":"invoice","date":"2025-01-01"},{"id":"y"}]`)
	if resp.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %+v", resp)
	}
}

func TestRecordsHandler_QueueFull(t *testing.T) {
	events := make(chan *models.RecordEvent, 1)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	rec, resp := post(t, h, `[{"id":"a"},{"id":"b"}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for partial accept, got %d", rec.Code)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 || resp.Errors[0].RecordID != "b" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec, _ = post(t, h, `{"id":"c"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with a full queue, got %d", rec.Code)
	}
}

func TestRecordsHandler_BadRequests(t *testing.T) {
	h := NewRecordsHandler(RecordsConfig{Events: make(chan *models.RecordEvent, 1)})

	tests := []struct {
		name   string
		method string
		ctype  string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", "", http.StatusMethodNotAllowed},
		{"wrong content type", http.MethodPost, "text/plain", `{}`, http.StatusUnsupportedMediaType},
		{"not json", http.MethodPost, "application/json", `temp=7`, http.StatusBadRequest},
		{"empty array", http.MethodPost, "application/json", `[]`, http.StatusBadRequest},
		{"truncated", http.MethodPost, "application/json", `{"id":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/records", strings.NewReader(tt.body))
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRecordsHandler_BodyTooLarge(t *testing.T) {
	h := NewRecordsHandler(RecordsConfig{Events: make(chan *models.RecordEvent, 1), MaxBodySize: 16})

	rec, _ := post(t, h, `{"id":"doc-1","fields":{"type":"fridge","temp":7.5}}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestRecordsHandler_RateLimit(t *testing.T) {
	events := make(chan *models.RecordEvent, 10)
	h := NewRecordsHandler(RecordsConfig{Events: events, RateLimit: 0.001, RateBurst: 2})

	if rec, _ := post(t, h, `[{"id":"a"},{"id":"b"}]`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected burst to be accepted, got %d", rec.Code)
	}
	if rec, _ := post(t, h, `{"id":"c"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %d", rec.Code)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 queued records, got %d", len(events))
	}
}

func TestRecordsHandler_ClosedBeforeChannel(t *testing.T) {
	events := make(chan *models.RecordEvent, 10)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	h.Close()
	close(events)

	rec, _ := post(t, h, `{"id":"late"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after Close, got %d", rec.Code)
	}
}

func TestRecordsHandler_CloseDuringRequests(t *testing.T) {
	events := make(chan *models.RecordEvent, 1000)
	h := NewRecordsHandler(RecordsConfig{Events: events})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{"type":"fridge","temp":7}`))
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				if rec.Code != http.StatusAccepted && rec.Code != http.StatusServiceUnavailable {
					t.Errorf("unexpected status %d", rec.Code)
				}
			}
		}()
	}

	h.Close()
	close(events)
	wg.Wait()
}
