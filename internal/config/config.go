package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Broadcast backends
const (
	BroadcastKafka     = "kafka"
	BroadcastWebsocket = "websocket"
	BroadcastLog       = "log"
)

// Config holds runtime configuration for the service.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Workers    WorkerConfig     `mapstructure:"workers"`
	Escalation EscalationConfig `mapstructure:"-"`
}

// HTTPConfig configures the ingest/ops HTTP server
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodySize  int64         `mapstructure:"max_body_size"`

	// Records accepted per second on /records; 0 disables the limit
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// KafkaConfig configures the record consumer and the broadcast producer
type KafkaConfig struct {
	Brokers      []string       `mapstructure:"brokers"`
	RecordsTopic string         `mapstructure:"records_topic"`
	GroupID      string         `mapstructure:"group_id"`
	Consume      bool           `mapstructure:"consume"`
	Producer     ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig configures the kafka writer pool
type ProducerConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Compression  string        `mapstructure:"compression"`
}

// BroadcastConfig selects the primary notification transport
type BroadcastConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// WorkerConfig sizes the record worker pool
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// EscalationConfig carries the email/SMS provider credentials. Each value
// comes from the config file first and the process environment second.
type EscalationConfig struct {
	Subject string
	Timeout time.Duration
	Email   EmailConfig
	SMS     SMSConfig
}

// EmailConfig holds SendGrid settings
type EmailConfig struct {
	APIKey string
	From   string
	To     string
}

// Configured reports whether every value needed to send is present
func (c EmailConfig) Configured() bool {
	return c.APIKey != "" && c.From != "" && c.To != ""
}

// SMSConfig holds Twilio settings
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Configured reports whether every value needed to send is present
func (c SMSConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

// escalationKeys maps config-file keys to their environment fallbacks
var escalationKeys = map[string]string{
	"sendgrid.key":        "SENDGRID_API_KEY",
	"sendgrid.from":       "SENDGRID_FROM",
	"escalation.to_email": "ESCALATION_EMAIL",
	"twilio.sid":          "TWILIO_SID",
	"twilio.token":        "TWILIO_TOKEN",
	"twilio.from":         "TWILIO_FROM",
	"escalation.to_phone": "ESCALATION_PHONE",
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxBodySize:  1 << 20,
			RateBurst:    100,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			RecordsTopic: "records",
			GroupID:      "safewatch",
			Consume:      false,
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
				Compression:  "snappy",
			},
		},
		Broadcast: BroadcastConfig{
			Backend: BroadcastLog,
			Topic:   "fsa_alerts",
		},
		Workers: WorkerConfig{
			Count:     4,
			QueueSize: 1000,
		},
		Escalation: EscalationConfig{
			Subject: "Escalation: safety alert",
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads configuration from an optional safewatch.yaml in dir, then
// from SAFEWATCH_* environment variables. A .env file in the working
// directory is loaded into the environment first when present.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigName("safewatch")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("SAFEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Comma separated broker lists from the environment
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers[0])
	}

	cfg.Escalation = resolveEscalation(v, cfg.Escalation)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.max_body_size", d.HTTP.MaxBodySize)
	v.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	v.SetDefault("http.rate_burst", d.HTTP.RateBurst)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.records_topic", d.Kafka.RecordsTopic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.consume", d.Kafka.Consume)
	v.SetDefault("kafka.producer.pool_size", d.Kafka.Producer.PoolSize)
	v.SetDefault("kafka.producer.batch_size", d.Kafka.Producer.BatchSize)
	v.SetDefault("kafka.producer.batch_timeout", d.Kafka.Producer.BatchTimeout)
	v.SetDefault("kafka.producer.write_timeout", d.Kafka.Producer.WriteTimeout)
	v.SetDefault("kafka.producer.required_acks", d.Kafka.Producer.RequiredAcks)
	v.SetDefault("kafka.producer.max_retries", d.Kafka.Producer.MaxRetries)
	v.SetDefault("kafka.producer.retry_backoff", d.Kafka.Producer.RetryBackoff)
	v.SetDefault("kafka.producer.compression", d.Kafka.Producer.Compression)
	v.SetDefault("broadcast.backend", d.Broadcast.Backend)
	v.SetDefault("broadcast.topic", d.Broadcast.Topic)
	v.SetDefault("workers.count", d.Workers.Count)
	v.SetDefault("workers.queue_size", d.Workers.QueueSize)
	v.SetDefault("escalation.subject", d.Escalation.Subject)
	v.SetDefault("escalation.timeout", d.Escalation.Timeout)
}

// resolveEscalation reads provider credentials, preferring values from the
// config file over the legacy environment variable names.
func resolveEscalation(v *viper.Viper, base EscalationConfig) EscalationConfig {
	get := func(key string) string {
		if v.InConfig(key) {
			if s := strings.TrimSpace(v.GetString(key)); s != "" {
				return s
			}
		}
		return strings.TrimSpace(os.Getenv(escalationKeys[key]))
	}

	out := base
	out.Subject = v.GetString("escalation.subject")
	out.Timeout = v.GetDuration("escalation.timeout")

	out.Email = EmailConfig{
		APIKey: get("sendgrid.key"),
		From:   get("sendgrid.from"),
		To:     get("escalation.to_email"),
	}
	// Sender falls back to the recipient address
	if out.Email.From == "" {
		out.Email.From = out.Email.To
	}

	out.SMS = SMSConfig{
		AccountSID: get("twilio.sid"),
		AuthToken:  get("twilio.token"),
		From:       get("twilio.from"),
		To:         get("escalation.to_phone"),
	}
	return out
}

// Validate checks the config can run the service
func (c *Config) Validate() error {
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.queue_size must be positive, got %d", c.Workers.QueueSize)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative, got %v", c.HTTP.RateLimit)
	}
	switch c.Broadcast.Backend {
	case BroadcastKafka, BroadcastWebsocket, BroadcastLog:
	default:
		return fmt.Errorf("unknown broadcast backend %q", c.Broadcast.Backend)
	}
	if c.Broadcast.Topic == "" {
		return errors.New("broadcast.topic is required")
	}
	if (c.Kafka.Consume || c.Broadcast.Backend == BroadcastKafka) && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is in use")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
