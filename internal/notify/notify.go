// Package notify fans alerts out to the primary broadcast channel.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
)

// DefaultTopic is the broadcast topic app clients subscribe to
const DefaultTopic = "fsa_alerts"

// Metadata keys attached to every broadcast message
const (
	MetaRecordID  = "docId"
	MetaType      = "type"
	MetaTimestamp = "timestamp"
)

// Message is one push notification
type Message struct {
	Topic string            `json:"topic"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Broadcaster delivers a message to every subscriber of its topic
type Broadcaster interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher sends each alert of a batch as its own broadcast message
type Dispatcher struct {
	broadcaster Broadcaster
	topic       string
}

// NewDispatcher creates a dispatcher publishing to topic
func NewDispatcher(b Broadcaster, topic string) *Dispatcher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Dispatcher{broadcaster: b, topic: topic}
}

// Summary collects the per-message outcomes of one dispatch
type Summary struct {
	Results []models.DispatchResult
}

// Succeeded returns the number of messages delivered
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of messages that could not be delivered
func (s Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// Err aggregates every send error, for logging
func (s Summary) Err() error {
	var result *multierror.Error
	for _, r := range s.Results {
		if r.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", r.Title, r.Err))
		}
	}
	return result.ErrorOrNil()
}

// BuildMessages turns a batch into broadcast messages, one per alert, in
// batch order.
func (d *Dispatcher) BuildMessages(ev *models.RecordEvent, batch models.AlertBatch) []Message {
	msgs := make([]Message, 0, len(batch))
	for _, a := range batch {
		msgs = append(msgs, Message{
			Topic: d.topic,
			Title: a.Title,
			Body:  a.Body,
			Data: map[string]string{
				MetaRecordID:  ev.ID,
				MetaType:      ev.Fields.String("type"),
				MetaTimestamp: ev.Fields.String("timestamp"),
			},
		})
	}
	return msgs
}

// Dispatch sends every alert concurrently and waits for all of them. One
// failed send never stops the others; failures are logged and counted,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.RecordEvent, batch models.AlertBatch) Summary {
	msgs := d.BuildMessages(ev, batch)
	results := make([]models.DispatchResult, len(msgs))

	var wg sync.WaitGroup
	for i, msg := range msgs {
		wg.Add(1)
		go func(i int, msg Message) {
			defer wg.Done()
			results[i] = d.send(ctx, ev, msg)
		}(i, msg)
	}
	wg.Wait()

	summary := Summary{Results: results}

	log := logger.WithRecord("notify", ev.ID, ev.Fields.Type())
	if summary.Failed() > 0 {
		log.Error().
			Err(summary.Err()).
			Int("sent", summary.Succeeded()).
			Int("failed", summary.Failed()).
			Msg("some alert broadcasts failed")
	} else if len(results) > 0 {
		log.Info().
			Int("sent", summary.Succeeded()).
			Str("topic", d.topic).
			Msg("alerts broadcast")
	}

	return summary
}

func (d *Dispatcher) send(ctx context.Context, ev *models.RecordEvent, msg Message) (result models.DispatchResult) {
	result = models.DispatchResult{
		Channel:  metrics.ChannelBroadcast,
		RecordID: ev.ID,
		Title:    msg.Title,
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("notify").Error().
				Str("record_id", ev.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("broadcast transport panicked")
			metrics.PanicsRecovered.WithLabelValues("broadcast").Inc()
			result.Status = models.StatusFailed
			result.Err = fmt.Errorf("broadcast panic: %v", r)
		}

		result.Duration = time.Since(start)
		metrics.NotificationDuration.WithLabelValues(metrics.ChannelBroadcast).Observe(result.Duration.Seconds())
		metrics.NotificationsTotal.WithLabelValues(metrics.ChannelBroadcast, string(result.Status)).Inc()
	}()

	if err := d.broadcaster.Send(ctx, msg); err != nil {
		logger.WithRecord("notify", ev.ID, ev.Fields.Type()).Warn().
			Err(err).
			Str("title", msg.Title).
			Msg("broadcast send failed")
		result.Status = models.StatusFailed
		result.Err = err
		return result
	}

	result.Status = models.StatusSuccess
	return result
}
