// Package pipeline runs the unit of work for one newly created record:
// evaluate, broadcast, and escalate when severe.
package pipeline

import (
	"context"
	"time"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
	"safewatch/internal/notify"
	"safewatch/internal/severity"
)

// Evaluator maps a record to its alerts
type Evaluator interface {
	Evaluate(rec models.Record) models.AlertBatch
}

// Notifier broadcasts a batch and waits for every send
type Notifier interface {
	Dispatch(ctx context.Context, ev *models.RecordEvent, batch models.AlertBatch) notify.Summary
}

// Escalator starts escalation for a batch without waiting for it
type Escalator interface {
	Escalate(ctx context.Context, recordID string, batch models.AlertBatch)
}

// Outcome describes what happened to one record
type Outcome struct {
	RecordID  string
	Alerts    models.AlertBatch
	Severe    bool
	Broadcast notify.Summary
}

// Pipeline processes records one at a time per call; it keeps no state
// between calls and is safe for concurrent use.
type Pipeline struct {
	evaluator Evaluator
	notifier  Notifier
	escalator Escalator
}

// New creates a pipeline from its collaborators
func New(evaluator Evaluator, notifier Notifier, escalator Escalator) *Pipeline {
	return &Pipeline{
		evaluator: evaluator,
		notifier:  notifier,
		escalator: escalator,
	}
}

// Process evaluates ev and delivers any alerts. It always completes: send
// failures show up in the Outcome and the logs, never as an error. When the
// batch is severe, escalation is started before the broadcast fan-out and
// is not awaited.
func (p *Pipeline) Process(ctx context.Context, ev *models.RecordEvent) Outcome {
	recordType := ev.Fields.Type()
	log := logger.WithRecord("pipeline", ev.ID, recordType)

	start := time.Now()
	batch := p.evaluator.Evaluate(ev.Fields)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	out := Outcome{RecordID: ev.ID, Alerts: batch}

	if len(batch) == 0 {
		metrics.RecordsProcessedTotal.WithLabelValues(typeLabel(recordType), "clean").Inc()
		log.Debug().Msg("no issues detected")
		return out
	}
	metrics.RecordsProcessedTotal.WithLabelValues(typeLabel(recordType), "alerted").Inc()
	for _, a := range batch {
		metrics.AlertsTotal.WithLabelValues(a.Title).Inc()
	}

	out.Severe = severity.IsSevere(batch)
	if out.Severe && p.escalator != nil {
		p.escalator.Escalate(ctx, ev.ID, batch)
	}

	out.Broadcast = p.notifier.Dispatch(ctx, ev, batch)

	log.Info().
		Int("alerts", len(batch)).
		Bool("severe", out.Severe).
		Int("broadcast_sent", out.Broadcast.Succeeded()).
		Int("broadcast_failed", out.Broadcast.Failed()).
		Msg("record processed")

	return out
}

// typeLabel bounds the metric label set to known record types
func typeLabel(t string) string {
	switch t {
	case models.TypeFridge, models.TypeOven, models.TypeAllergen, models.TypeInvoice:
		return t
	case "":
		return "untyped"
	default:
		return "other"
	}
}
