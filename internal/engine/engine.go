// Package engine runs the rule catalog against one record.
package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
	"safewatch/internal/rules"
)

// Engine evaluates records against an ordered rule catalog. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	rules []rules.Rule
	now   func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRules replaces the default catalog
func WithRules(rs ...rules.Rule) Option {
	return func(e *Engine) {
		e.rules = rs
	}
}

// WithClock sets the source of the evaluation instant
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine using rules.Default and time.Now unless overridden
func New(opts ...Option) *Engine {
	e := &Engine{
		rules: rules.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the catalog in evaluation order
func (e *Engine) Rules() []rules.Rule {
	out := make([]rules.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule against rec at the current instant
func (e *Engine) Evaluate(rec models.Record) models.AlertBatch {
	return e.EvaluateAt(rec, e.now())
}

// EvaluateAt runs every rule against rec at instant now and concatenates
// their alerts in catalog order. A rule that panics contributes nothing.
func (e *Engine) EvaluateAt(rec models.Record, now time.Time) models.AlertBatch {
	batch := make(models.AlertBatch, 0)
	for _, r := range e.rules {
		batch = append(batch, e.runRule(r, rec, now)...)
	}
	return batch
}

func (e *Engine) runRule(r rules.Rule, rec models.Record, now time.Time) (alerts []models.Alert) {
	defer func() {
		if rv := recover(); rv != nil {
			log := logger.WithComponent("engine")
			log.Error().
				Str("rule", r.Name()).
				Str("record_type", rec.Type()).
				Str("panic", fmt.Sprint(rv)).
				Bytes("stack", debug.Stack()).
				Msg("rule panicked; treating as no alerts")
			metrics.PanicsRecovered.WithLabelValues("rule").Inc()
			alerts = nil
		}
	}()
	return r.Evaluate(rec, now)
}
