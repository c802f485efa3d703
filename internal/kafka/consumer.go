package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
)

// ErrMalformedRecord is returned for a message that is not a JSON object
var ErrMalformedRecord = errors.New("malformed record message")

// MessageReader is the part of kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads newly created records from a topic and hands them to the
// worker queue. It is the Kafka ingestion adapter.
type Consumer struct {
	reader MessageReader
	events chan<- *models.RecordEvent
}

// NewConsumer creates a consumer group reader on topic
func NewConsumer(brokers []string, topic, groupID string, events chan<- *models.RecordEvent) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return NewConsumerWithReader(reader, events), nil
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader MessageReader, events chan<- *models.RecordEvent) *Consumer {
	return &Consumer{reader: reader, events: events}
}

// Start consumes until ctx is cancelled. A message is committed once its
// record is queued or found malformed; malformed messages are logged and
// skipped. Delivery is at-most-once: records still queued when the
// process dies are not redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("record consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("fetch failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		ev, err := DecodeRecord(msg)
		if err != nil {
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping malformed record")
			metrics.KafkaRecordsConsumed.WithLabelValues("malformed").Inc()
		} else {
			select {
			case c.events <- ev:
				metrics.KafkaRecordsConsumed.WithLabelValues("accepted").Inc()
				metrics.IngestRecordsTotal.WithLabelValues("kafka", "accepted").Inc()
			case <-ctx.Done():
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// Stop closes the underlying reader
func (c *Consumer) Stop() error {
	return c.reader.Close()
}

// DecodeRecord turns a Kafka message into a record event. The value is
// either {"id": ..., "fields": {...}} or a bare field map; the message key
// is the id when the value carries none.
func DecodeRecord(msg kafka.Message) (*models.RecordEvent, error) {
	id, fields, err := models.DecodeRecordJSON(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if id == "" {
		id = string(msg.Key)
	}

	ev := models.NewRecordEvent(id, fields, "kafka")
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return ev, nil
}
