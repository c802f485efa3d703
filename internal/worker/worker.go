package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
	"safewatch/internal/pipeline"
)

// Processor handles one record event to completion
type Processor interface {
	Process(ctx context.Context, ev *models.RecordEvent) pipeline.Outcome
}

// Pool manages a pool of workers that drain record events and process them
type Pool struct {
	processor Processor
	events    <-chan *models.RecordEvent
	workers   int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	alerted   atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Processor Processor
	Events    <-chan *models.RecordEvent
	Workers   int
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		processor: cfg.Processor,
		events:    cfg.Events,
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing events
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().Int("workers", p.workers).Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for the workers to drain the channel and exit. The owner must
// close the events channel first; Stop then returns once every queued
// record has been processed.
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.wg.Wait()
	p.cancel()
	log.Info().Msg("worker pool stopped")
}

// Abort stops workers after their current record, abandoning queued ones
func (p *Pool) Abort() {
	p.cancel()
	p.wg.Wait()
}

// worker processes events from the channel until it is closed
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			metrics.WorkerQueueSize.Set(float64(len(p.events)))
			p.handle(ev)
		}
	}
}

// handle runs one record; a panic is contained to that record
func (p *Pool) handle(ev *models.RecordEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithRecord("worker", ev.ID, ev.Fields.Type()).Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("record processing panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.failed.Add(1)
		}
	}()

	out := p.processor.Process(p.ctx, ev)
	p.processed.Add(1)
	if len(out.Alerts) > 0 {
		p.alerted.Add(1)
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Alerted:   p.alerted.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64
	Alerted   uint64
	Failed    uint64
}
