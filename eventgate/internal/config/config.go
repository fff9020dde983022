package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	common "github.com/telhawk-systems/eventgate/common/config"
)

// Config contains runtime configuration for the eventgate service.
type Config struct {
	Server     common.ServerConfig   `mapstructure:"server"`
	Database   common.DatabaseConfig `mapstructure:"database"`
	NATS       common.NATSConfig     `mapstructure:"nats"`
	Redis      common.RedisConfig    `mapstructure:"redis"`
	Consumer   ConsumerConfig        `mapstructure:"consumer"`
	Processing ProcessingConfig      `mapstructure:"processing"`
	DLQ        DLQConfig             `mapstructure:"dlq"`
	Email      EmailConfig           `mapstructure:"email"`
	Logging    common.LoggingConfig  `mapstructure:"logging"`
}

// ConsumerConfig controls the JetStream pull consumer and worker pool.
type ConsumerConfig struct {
	Stream        string        `mapstructure:"stream"`
	Durable       string        `mapstructure:"durable"`
	FilterSubject string        `mapstructure:"filter_subject"`
	Workers       int           `mapstructure:"workers"`
	MaxPending    int           `mapstructure:"max_pending"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	NakDelay      time.Duration `mapstructure:"nak_delay"`
}

// ProcessingConfig bounds each phase of the idempotency protocol.
type ProcessingConfig struct {
	AdmissionTimeout  time.Duration `mapstructure:"admission_timeout"`
	HandlerTimeout    time.Duration `mapstructure:"handler_timeout"`
	FinalizeTimeout   time.Duration `mapstructure:"finalize_timeout"`
	ReclaimEnabled    bool          `mapstructure:"reclaim_enabled"`
	ReclaimInterval   time.Duration `mapstructure:"reclaim_interval"`
	ReclaimAfter      time.Duration `mapstructure:"reclaim_after"`
	ReclaimBatchSize  int           `mapstructure:"reclaim_batch_size"`
	ProcessedCacheTTL time.Duration `mapstructure:"processed_cache_ttl"`
}

// DLQConfig controls the dead-letter stream.
type DLQConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EmailConfig selects the email delivery backend.
type EmailConfig struct {
	Backend         string        `mapstructure:"backend"` // smtp, webhook or log
	From            string        `mapstructure:"from"`
	RecipientDomain string        `mapstructure:"recipient_domain"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SMTP            SMTPConfig    `mapstructure:"smtp"`
	WebhookURL      string        `mapstructure:"webhook_url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from the provided path and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	common.SetInfraDefaults(v)

	v.SetDefault("consumer.stream", "EVENTS")
	v.SetDefault("consumer.durable", "eventgate-processors")
	v.SetDefault("consumer.filter_subject", "events.>")
	v.SetDefault("consumer.workers", 10)
	v.SetDefault("consumer.max_pending", 100)
	v.SetDefault("consumer.ack_wait", "30s")
	v.SetDefault("consumer.max_deliver", 10)
	v.SetDefault("consumer.nak_delay", "5s")

	v.SetDefault("processing.admission_timeout", "10s")
	v.SetDefault("processing.handler_timeout", "5m")
	v.SetDefault("processing.finalize_timeout", "10s")
	v.SetDefault("processing.reclaim_enabled", true)
	v.SetDefault("processing.reclaim_interval", "1m")
	v.SetDefault("processing.reclaim_after", "15m")
	v.SetDefault("processing.reclaim_batch_size", 100)
	v.SetDefault("processing.processed_cache_ttl", "24h")

	v.SetDefault("dlq.enabled", true)

	v.SetDefault("email.backend", "log")
	v.SetDefault("email.from", "noreply@eventgate.local")
	v.SetDefault("email.recipient_domain", "")
	v.SetDefault("email.timeout", "30s")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.webhook_url", "")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eventgate")
	}

	// Environment variables override
	v.SetEnvPrefix("EVENTGATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Consumer.Workers <= 0 {
		errs = append(errs, fmt.Errorf("consumer.workers must be positive, got %d", c.Consumer.Workers))
	}
	if c.Consumer.Durable == "" || c.Consumer.Stream == "" {
		errs = append(errs, errors.New("consumer.stream and consumer.durable are required"))
	}
	if c.Processing.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("processing.handler_timeout must be positive"))
	}

	if c.Processing.ReclaimEnabled {
		// A running handler must never be reclaimed.
		busy := c.Processing.AdmissionTimeout + c.Processing.HandlerTimeout + c.Processing.FinalizeTimeout
		if c.Processing.ReclaimAfter <= busy {
			errs = append(errs, fmt.Errorf("processing.reclaim_after (%s) must exceed admission, handler and finalize timeouts combined (%s)",
				c.Processing.ReclaimAfter, busy))
		}
	}

	switch c.Email.Backend {
	case "smtp":
		if c.Email.SMTP.Host == "" {
			errs = append(errs, errors.New("email.smtp.host is required for the smtp backend"))
		}
	case "webhook":
		if c.Email.WebhookURL == "" {
			errs = append(errs, errors.New("email.webhook_url is required for the webhook backend"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown email.backend %q", c.Email.Backend))
	}

	return errors.Join(errs...)
}
