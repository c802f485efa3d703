// Package processor wires ingestion, evaluation, broadcast and escalation
// into one running service.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safewatch/internal/config"
	"safewatch/internal/engine"
	"safewatch/internal/escalation"
	"safewatch/internal/handlers"
	"safewatch/internal/hub"
	"safewatch/internal/kafka"
	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/middleware"
	"safewatch/internal/models"
	"safewatch/internal/notify"
	"safewatch/internal/pipeline"
	"safewatch/internal/worker"
)

const (
	statsInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 15 * time.Second
)

// Processor is the high-level coordinator for ingesting, evaluating, and
// notifying.
type Processor struct {
	cfg    *config.Config
	events chan *models.RecordEvent

	broadcaster notify.Broadcaster
	producer    *kafka.Producer
	hub         *hub.Hub
	consumer    *kafka.Consumer
	escalator   *escalation.Dispatcher
	escOpts     []escalation.Option
	workerPool  *worker.Pool
	records     *handlers.RecordsHandler

	listener   net.Listener
	httpServer *http.Server
	ready      chan struct{}

	hubCancel      context.CancelFunc
	consumerCancel context.CancelFunc
	consumerDone   chan struct{}
	wg             sync.WaitGroup
}

// Option customizes a Processor
type Option func(*Processor)

// WithBroadcaster replaces the configured broadcast backend
func WithBroadcaster(b notify.Broadcaster) Option {
	return func(p *Processor) { p.broadcaster = b }
}

// WithEscalationOptions passes options through to the escalation dispatcher
func WithEscalationOptions(opts ...escalation.Option) Option {
	return func(p *Processor) { p.escOpts = append(p.escOpts, opts...) }
}

// New constructs a Processor with given config.
func New(cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		events: make(chan *models.RecordEvent, cfg.Workers.QueueSize),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready is closed once the HTTP listener is bound
func (p *Processor) Ready() <-chan struct{} {
	return p.ready
}

// Addr returns the bound HTTP address; valid after Ready
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	listener, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.HTTP.Addr, err)
	}
	p.listener = listener

	if err := p.initBroadcaster(); err != nil {
		listener.Close()
		log.Error().Err(err).Msg("failed to initialize broadcaster")
		return fmt.Errorf("failed to initialize broadcaster: %w", err)
	}

	// Capability flags are resolved once here
	p.escalator = escalation.New(p.cfg.Escalation, p.escOpts...)

	pipe := pipeline.New(
		engine.New(),
		notify.NewDispatcher(p.broadcaster, p.cfg.Broadcast.Topic),
		p.escalator,
	)

	p.initWorkerPool(pipe)
	p.workerPool.Start()

	if err := p.initConsumer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize record consumer")
		p.abort()
		return fmt.Errorf("failed to initialize record consumer: %w", err)
	}

	p.initHTTPServer()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.Addr()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	close(p.ready)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

// initBroadcaster builds the primary notification transport
func (p *Processor) initBroadcaster() error {
	log := logger.WithComponent("processor")
	if p.broadcaster != nil {
		return nil
	}

	switch p.cfg.Broadcast.Backend {
	case config.BroadcastKafka:
		producer, err := kafka.NewProducer(
			p.cfg.Kafka.Brokers,
			p.cfg.Broadcast.Topic,
			p.cfg.Kafka.Producer,
		)
		if err != nil {
			return err
		}
		p.producer = producer
		p.broadcaster = producer
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Broadcast.Topic).
			Msg("kafka broadcaster initialized")

	case config.BroadcastWebsocket:
		h := hub.New(p.cfg.Broadcast.Topic)
		hubCtx, cancel := context.WithCancel(context.Background())
		p.hubCancel = cancel
		go h.Run(hubCtx)
		p.hub = h
		p.broadcaster = h
		log.Info().Str("topic", p.cfg.Broadcast.Topic).Msg("websocket broadcaster initialized")

	default:
		p.broadcaster = notify.LogBroadcaster{}
		log.Info().Msg("log broadcaster initialized")
	}
	return nil
}

// initWorkerPool initializes the worker pool
func (p *Processor) initWorkerPool(pipe *pipeline.Pipeline) {
	log := logger.WithComponent("processor")
	p.workerPool = worker.NewPool(worker.Config{
		Processor: pipe,
		Events:    p.events,
		Workers:   p.cfg.Workers.Count,
	})
	metrics.WorkerQueueCapacity.Set(float64(cap(p.events)))
	log.Info().Int("workers", p.cfg.Workers.Count).Int("queue_size", cap(p.events)).Msg("worker pool initialized")
}

// initConsumer starts the Kafka ingestion adapter when enabled
func (p *Processor) initConsumer() error {
	if !p.cfg.Kafka.Consume {
		return nil
	}

	consumer, err := kafka.NewConsumer(p.cfg.Kafka.Brokers, p.cfg.Kafka.RecordsTopic, p.cfg.Kafka.GroupID, p.events)
	if err != nil {
		return err
	}
	p.consumer = consumer

	ctx, cancel := context.WithCancel(context.Background())
	p.consumerCancel = cancel
	p.consumerDone = make(chan struct{})
	go func() {
		defer close(p.consumerDone)
		if err := consumer.Start(ctx); err != nil {
			logger.WithComponent("processor").Error().Err(err).Msg("record consumer stopped")
		}
	}()

	logger.WithComponent("processor").Info().
		Str("topic", p.cfg.Kafka.RecordsTopic).
		Str("group_id", p.cfg.Kafka.GroupID).
		Msg("record consumer started")
	return nil
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	mux := http.NewServeMux()

	p.records = handlers.NewRecordsHandler(handlers.RecordsConfig{
		Events:      p.events,
		MaxBodySize: p.cfg.HTTP.MaxBodySize,
		RateLimit:   p.cfg.HTTP.RateLimit,
		RateBurst:   p.cfg.HTTP.RateBurst,
	})
	mux.Handle("/records", middleware.Chain(
		p.records,
		middleware.Recovery,
		middleware.Logging,
	))

	if p.hub != nil {
		mux.Handle("/ws", middleware.Chain(p.hub, middleware.Recovery))
	}

	mux.HandleFunc("/health", p.healthHandler)
	mux.HandleFunc("/stats", p.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	p.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new records
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	// Handlers still running after a Shutdown timeout must not send on
	// the closed channel
	p.records.Close()
	p.stopConsumer()

	// 2. Let the workers drain what was already queued
	close(p.events)
	if waitTimeout(p.workerPool.Stop, drainTimeout) {
		log.Info().Msg("workers stopped gracefully")
	} else {
		log.Warn().Msg("worker shutdown timeout - abandoning queued records")
		p.workerPool.Abort()
	}

	// 3. Give in-flight escalations their chance to finish
	if !waitTimeout(p.escalator.Wait, p.cfg.Escalation.Timeout+time.Second) {
		log.Warn().Msg("escalation wait timeout")
	}

	// 4. Close transports
	p.closeBroadcaster()

	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// abort tears down what Run started before the HTTP server came up
func (p *Processor) abort() {
	p.listener.Close()
	p.workerPool.Abort()
	p.closeBroadcaster()
}

func (p *Processor) stopConsumer() {
	if p.consumer == nil {
		return
	}
	logger.WithComponent("processor").Info().Msg("stopping record consumer")
	p.consumerCancel()
	<-p.consumerDone
	if err := p.consumer.Stop(); err != nil {
		logger.WithComponent("processor").Error().Err(err).Msg("consumer close error")
	}
}

func (p *Processor) closeBroadcaster() {
	log := logger.WithComponent("processor")
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.hub != nil {
		log.Info().Msg("stopping websocket hub")
		p.hubCancel()
		<-p.hub.Done()
	}
}

// waitTimeout runs fn and reports whether it returned within d
func waitTimeout(fn func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.snapshot()
			metrics.WorkerQueueSize.Set(float64(stats.Queue.Buffered))

			ev := log.Info().
				Uint64("worker_processed", stats.Worker.Processed).
				Uint64("worker_alerted", stats.Worker.Alerted).
				Uint64("worker_failed", stats.Worker.Failed).
				Int("queue_size", stats.Queue.Buffered)
			if stats.Producer != nil {
				ev = ev.
					Uint64("producer_sent", stats.Producer.MessagesSent).
					Uint64("producer_failed", stats.Producer.MessagesFailed)
			}
			if stats.Hub != nil {
				ev = ev.Int("subscribers", stats.Hub.Subscribers)
			}
			ev.Msg("stats")
		}
	}
}

// Stats is the /stats payload
type Stats struct {
	Worker     WorkerStats      `json:"worker"`
	Producer   *ProducerStats   `json:"producer,omitempty"`
	Hub        *HubStats        `json:"hub,omitempty"`
	Queue      QueueStats       `json:"channel"`
	Escalation EscalationStatus `json:"escalation"`
}

type WorkerStats struct {
	Processed uint64 `json:"processed"`
	Alerted   uint64 `json:"alerted"`
	Failed    uint64 `json:"failed"`
}

type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

type HubStats struct {
	Subscribers int `json:"subscribers"`
}

type QueueStats struct {
	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`
}

type EscalationStatus struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

func (p *Processor) snapshot() Stats {
	ws := p.workerPool.Stats()
	s := Stats{
		Worker: WorkerStats{Processed: ws.Processed, Alerted: ws.Alerted, Failed: ws.Failed},
		Queue:  QueueStats{Buffered: len(p.events), Capacity: cap(p.events)},
		Escalation: EscalationStatus{
			Email: p.escalator.EmailEnabled(),
			SMS:   p.escalator.SMSEnabled(),
		},
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ProducerStats{
			MessagesSent:   ps.MessagesSent,
			MessagesFailed: ps.MessagesFailed,
			BytesWritten:   ps.BytesWritten,
		}
	}
	if p.hub != nil {
		s.Hub = &HubStats{Subscribers: p.hub.Subscribers()}
	}
	return s
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if p.producer != nil {
		if err := p.producer.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}
	if p.hub != nil {
		select {
		case <-p.hub.Done():
			http.Error(w, "unhealthy: websocket hub stopped", http.StatusServiceUnavailable)
			return
		default:
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","backend":%q,"timestamp":"%s"}`,
		p.cfg.Broadcast.Backend, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(p.snapshot())
}
