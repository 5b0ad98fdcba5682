// internal/alerts/webhook.go
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const webhookTimeout = 10 * time.Second

// Webhook delivers alerts as JSON POSTs to an external endpoint.
type Webhook struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook sink. Returns nil when url is empty so the
// caller can skip registration entirely.
func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		url:    url,
		http:   &http.Client{Timeout: webhookTimeout},
		logger: logger.Named("webhook"),
	}
}

// Handler adapts the webhook to the alert manager's callback shape. Delivery
// runs with its own deadline; a dead endpoint must not back up alerting.
func (w *Webhook) Handler() Handler {
	return func(alert Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.Deliver(ctx, alert); err != nil {
			w.logger.Error("Webhook delivery failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	}
}

// Deliver posts one alert, retrying transient failures with exponential
// backoff.
func (w *Webhook) Deliver(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors will not fix themselves on retry.
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook rejected alert: %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(25*time.Second))
	return err
}
