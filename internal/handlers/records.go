package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
)

const sourceHTTP = "http"

// RecordsHandler accepts newly created records over HTTP and queues them
// for evaluation. It is the HTTP ingestion adapter.
type RecordsHandler struct {
	// Channel feeding the worker pool
	events chan<- *models.RecordEvent

	// Max body size (default 1MB)
	maxBodySize int64

	// Nil when unlimited
	limiter *rate.Limiter

	// Guards events against sends after Close
	mu     sync.RWMutex
	closed bool
}

// RecordsConfig holds configuration for the records handler
type RecordsConfig struct {
	Events      chan<- *models.RecordEvent
	MaxBodySize int64

	// RateLimit is records per second; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(cfg RecordsConfig) *RecordsHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}

	h := &RecordsHandler{
		events:      cfg.Events,
		maxBodySize: maxBodySize,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return h
}

// ErrClosed rejects records that arrive after Close
var ErrClosed = errors.New("ingest is shutting down")

// Close stops the handler from queueing records. It returns once no
// request is still sending, after which the owner may close the events
// channel.
func (h *RecordsHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// RecordsResponse is the response returned to clients
type RecordsResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	IDs      []string      `json:"ids,omitempty"`
	Errors   []RecordError `json:"errors,omitempty"`
}

// RecordError describes why a specific record was rejected
type RecordError struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error"`
}

// ServeHTTP handles POST /records. The body is a single record object, an
// array of records, or {"records": [...]}.
func (h *RecordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	raws, err := splitRecords(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(raws) == 0 {
		h.writeError(w, http.StatusBadRequest, "no records provided")
		return
	}

	if h.limiter != nil && !h.limiter.AllowN(time.Now(), len(raws)) {
		metrics.IngestRecordsTotal.WithLabelValues(sourceHTTP, "rate_limited").Add(float64(len(raws)))
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		h.writeError(w, http.StatusServiceUnavailable, ErrClosed.Error())
		return
	}
	response := h.enqueue(raws, r.Header.Get("X-Request-ID"))
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case response.Accepted == 0 && response.queueFull:
		w.WriteHeader(http.StatusServiceUnavailable)
	case response.Accepted == 0:
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(response.RecordsResponse)
}

var errInvalidBody = errors.New("invalid JSON format: expected record object or array of records")

// splitRecords breaks a request body into one raw JSON value per record
func splitRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errInvalidBody
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, errInvalidBody
		}
		return list, nil

	case '{':
		var batch struct {
			Records []json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &batch); err == nil && batch.Records != nil {
			return batch.Records, nil
		}
		if !json.Valid(trimmed) {
			return nil, errInvalidBody
		}
		return []json.RawMessage{trimmed}, nil
	}

	return nil, errInvalidBody
}

type enqueueResult struct {
	RecordsResponse
	queueFull bool
}

// enqueue decodes each record and pushes it to the worker queue without
// blocking; a full queue rejects the record. Callers hold h.mu for reading.
func (h *RecordsHandler) enqueue(raws []json.RawMessage, requestID string) enqueueResult {
	log := logger.WithRequestID(requestID).With().Str("component", "records_handler").Logger()
	res := enqueueResult{}

	reject := func(i int, id string, err error) {
		res.Errors = append(res.Errors, RecordError{Index: i, RecordID: id, Error: err.Error()})
		res.Rejected++
		metrics.IngestRecordsTotal.WithLabelValues(sourceHTTP, "rejected").Inc()
	}

	for i, raw := range raws {
		id, fields, err := models.DecodeRecordJSON(raw)
		if err != nil {
			reject(i, "", fmt.Errorf("decode: %w", err))
			continue
		}
		if id == "" {
			id = uuid.New().String()
		}

		ev := models.NewRecordEvent(id, fields, sourceHTTP)
		if err := ev.Validate(); err != nil {
			reject(i, id, err)
			continue
		}

		select {
		case h.events <- ev:
			res.Accepted++
			res.IDs = append(res.IDs, id)
			metrics.IngestRecordsTotal.WithLabelValues(sourceHTTP, "accepted").Inc()
			metrics.WorkerQueueSize.Set(float64(len(h.events)))
		default:
			res.queueFull = true
			reject(i, id, errors.New("internal queue full, try again later"))
		}
	}

	res.Success = res.Rejected == 0
	log.Debug().Int("accepted", res.Accepted).Int("rejected", res.Rejected).Msg("records received")
	return res
}

// writeError writes an error response
func (h *RecordsHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
