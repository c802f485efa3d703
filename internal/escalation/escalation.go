// Package escalation sends a combined alert summary over email and SMS when
// a record's alerts are severe. Both channels are best-effort: each may be
// unconfigured or fail without affecting the other or the caller.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"safewatch/internal/config"
	"safewatch/internal/logger"
	"safewatch/internal/metrics"
	"safewatch/internal/models"
)

// ErrNotConfigured marks a channel skipped for missing configuration
var ErrNotConfigured = errors.New("channel not configured")

const DefaultSubject = "Escalation: safety alert"

// Email is one escalation email
type Email struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
}

// SMS is one escalation text message
type SMS struct {
	To   string
	From string
	Body string
}

// EmailSender delivers escalation emails
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

// SMSSender delivers escalation text messages
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMS) error
}

// Dispatcher fans a severe batch out to the email and SMS channels
type Dispatcher struct {
	cfg     config.EscalationConfig
	email   EmailSender
	sms     SMSSender
	onDone  func(models.DispatchResult)
	pending sync.WaitGroup
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithEmailSender sets the email transport. A nil sender leaves the channel
// unconfigured.
func WithEmailSender(s EmailSender) Option {
	return func(d *Dispatcher) { d.email = s }
}

// WithSMSSender sets the SMS transport. A nil sender leaves the channel
// unconfigured.
func WithSMSSender(s SMSSender) Option {
	return func(d *Dispatcher) { d.sms = s }
}

// WithResultHook registers fn to observe every channel outcome
func WithResultHook(fn func(models.DispatchResult)) Option {
	return func(d *Dispatcher) { d.onDone = fn }
}

// New resolves which channels are usable from cfg. Provider clients are
// built only for configured channels; options may replace them.
func New(cfg config.EscalationConfig, opts ...Option) *Dispatcher {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	d := &Dispatcher{cfg: cfg}
	if cfg.Email.Configured() {
		d.email = NewSendGrid(cfg.Email.APIKey, cfg.Timeout)
	}
	if cfg.SMS.Configured() {
		d.sms = NewTwilio(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.Timeout)
	}
	for _, opt := range opts {
		opt(d)
	}

	log := logger.WithComponent("escalation")
	log.Info().
		Bool("email", d.EmailEnabled()).
		Bool("sms", d.SMSEnabled()).
		Msg("escalation channels resolved")
	return d
}

// EmailEnabled reports whether escalation emails will be attempted
func (d *Dispatcher) EmailEnabled() bool {
	return d.email != nil && d.cfg.Email.To != "" && d.cfg.Email.From != ""
}

// SMSEnabled reports whether escalation texts will be attempted
func (d *Dispatcher) SMSEnabled() bool {
	return d.sms != nil && d.cfg.SMS.To != "" && d.cfg.SMS.From != ""
}

// Summary renders the batch as "<title>: <body>" lines in batch order
func Summary(batch models.AlertBatch) string {
	lines := make([]string, 0, len(batch))
	for _, a := range batch {
		lines = append(lines, a.Title+": "+a.Body)
	}
	return strings.Join(lines, "\n")
}

// Escalate starts the email and SMS attempts and returns without waiting
// for either. Their outcomes are only logged and counted. The attempts
// are detached from ctx cancellation so finishing the record does not
// abort them.
func (d *Dispatcher) Escalate(ctx context.Context, recordID string, batch models.AlertBatch) {
	if len(batch) == 0 {
		return
	}

	text := Summary(batch)
	detached := context.WithoutCancel(ctx)
	metrics.EscalationsTotal.Inc()

	d.spawn(metrics.ChannelEmail, recordID, func() error {
		if !d.EmailEnabled() {
			return ErrNotConfigured
		}
		return d.email.SendEmail(detached, Email{
			To:      d.cfg.Email.To,
			From:    d.cfg.Email.From,
			Subject: d.cfg.Subject,
			Text:    text,
			HTML:    "<pre>" + html.EscapeString(text) + "</pre>",
		})
	})

	d.spawn(metrics.ChannelSMS, recordID, func() error {
		if !d.SMSEnabled() {
			return ErrNotConfigured
		}
		return d.sms.SendSMS(detached, SMS{
			To:   d.cfg.SMS.To,
			From: d.cfg.SMS.From,
			Body: text,
		})
	})
}

// Wait blocks until every escalation started so far has finished. Record
// processing never calls it; shutdown does.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func (d *Dispatcher) spawn(channel, recordID string, send func() error) {
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()

		result := models.DispatchResult{
			Channel:  channel,
			RecordID: recordID,
			Title:    d.cfg.Subject,
		}
		start := time.Now()
		log := logger.WithComponent("escalation").With().
			Str("channel", channel).
			Str("record_id", recordID).
			Logger()

		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("escalation sender panicked")
				metrics.PanicsRecovered.WithLabelValues("escalation").Inc()
				result.Status = models.StatusFailed
				result.Err = fmt.Errorf("%s panic: %v", channel, r)
			}
			result.Duration = time.Since(start)
			d.finish(log, result)
		}()

		err := send()
		switch {
		case errors.Is(err, ErrNotConfigured):
			result.Status = models.StatusSkipped
			result.Err = err
		case err != nil:
			result.Status = models.StatusFailed
			result.Err = err
		default:
			result.Status = models.StatusSuccess
		}
	}()
}

func (d *Dispatcher) finish(log zerolog.Logger, result models.DispatchResult) {
	switch result.Status {
	case models.StatusSkipped:
		log.Warn().Msg("escalation channel not configured; skipping")
	case models.StatusFailed:
		log.Error().Err(result.Err).Dur("duration", result.Duration).Msg("escalation send failed")
	default:
		log.Info().Dur("duration", result.Duration).Msg("escalation sent")
		metrics.NotificationDuration.WithLabelValues(result.Channel).Observe(result.Duration.Seconds())
	}
	metrics.NotificationsTotal.WithLabelValues(result.Channel, string(result.Status)).Inc()

	if d.onDone != nil {
		d.onDone(result)
	}
}
