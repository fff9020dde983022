package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender hands emails to an HTTP mail relay as a JSON POST.
type WebhookSender struct {
	URL    string
	From   string
	client *http.Client
}

func NewWebhookSender(url, from string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		URL:  url,
		From: from,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookSender) Type() string {
	return BackendWebhook
}

type webhookPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (w *WebhookSender) Send(ctx context.Context, e *Email) (err error) {
	defer func() { observe(BackendWebhook, err) }()

	from := e.From
	if from == "" {
		from = w.From
	}

	jsonData, err := json.Marshal(webhookPayload{
		To:      e.To,
		From:    from,
		Subject: e.Subject,
		HTML:    e.HTMLBody,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "eventgate/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send webhook: %w", err)
		}
		return &DeliveryError{Backend: BackendWebhook, To: e.To, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Backend: BackendWebhook, To: e.To, Err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}

	return nil
}
