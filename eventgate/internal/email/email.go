// Package email delivers rendered HTML emails through a configurable backend.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/telhawk-systems/eventgate/eventgate/internal/metrics"
)

// Backend names accepted by New.
const (
	BackendSMTP    = "smtp"
	BackendWebhook = "webhook"
	BackendLog     = "log"
)

// Email is a single HTML message.
type Email struct {
	To       string
	From     string
	Subject  string
	HTMLBody string
}

// Sender delivers emails.
type Sender interface {
	Send(ctx context.Context, e *Email) error
	Type() string
}

// DeliveryError reports that a backend could not deliver an email. It is a
// known business failure: the event is recorded as FAILED and not retried
// by redelivery.
type DeliveryError struct {
	Backend string
	To      string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Backend, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	From    string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	WebhookURL string
	Timeout    time.Duration
}

// New builds the Sender named by cfg.Backend.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	switch cfg.Backend {
	case BackendSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp backend requires a host")
		}
		port := cfg.SMTPPort
		if port == 0 {
			port = 587
		}
		return &SMTPSender{
			Addr:     cfg.SMTPHost + ":" + strconv.Itoa(port),
			Host:     cfg.SMTPHost,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			Timeout:  cfg.Timeout,
		}, nil
	case BackendWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook backend requires a url")
		}
		return NewWebhookSender(cfg.WebhookURL, cfg.From, cfg.Timeout), nil
	case BackendLog, "":
		return NewLogSender(cfg.From, logger), nil
	default:
		return nil, fmt.Errorf("unknown email backend %q", cfg.Backend)
	}
}

func observe(backend string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	metrics.EmailsSent.WithLabelValues(backend, status).Inc()
}
