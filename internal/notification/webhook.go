package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// WebhookSender delivers session outcomes to an external HTTP endpoint
// with bounded retries.
type WebhookSender struct {
	url           string
	retryAttempts int
	retryDelay    time.Duration
	client        *http.Client
	logger        *logrus.Entry
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(cfg *config.NotificationConfig) *WebhookSender {
	return &WebhookSender{
		url:           cfg.WebhookURL,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		client:        &http.Client{Timeout: cfg.WebhookTimeout},
		logger:        utils.ComponentLogger("webhook"),
	}
}

// Send posts the outcome as JSON, retrying transient failures
func (w *WebhookSender) Send(ctx context.Context, outcome models.SessionOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryDelay):
			}
		}

		if err := w.post(ctx, payload); err != nil {
			lastErr = err
			w.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": outcome.SessionID,
				"attempt":    attempt + 1,
			}).Warn("Webhook post failed")
			continue
		}
		return nil
	}
	return lastErr
}

func (w *WebhookSender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
