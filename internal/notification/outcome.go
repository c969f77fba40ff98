package notification

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// OutcomeHub fans terminal session outcomes out to in-process subscribers
// and, when configured, to an external webhook. Publishing never blocks
// the poller: slow subscribers drop outcomes rather than stall sessions.
type OutcomeHub struct {
	config *config.NotificationConfig
	logger *logrus.Entry

	mu          sync.Mutex
	subscribers map[int]chan models.SessionOutcome
	nextID      int

	webhook *WebhookSender
}

// NewOutcomeHub creates an outcome hub
func NewOutcomeHub(cfg *config.NotificationConfig) *OutcomeHub {
	hub := &OutcomeHub{
		config:      cfg,
		logger:      utils.ComponentLogger("outcome_hub"),
		subscribers: make(map[int]chan models.SessionOutcome),
	}
	if cfg.Enabled && cfg.WebhookURL != "" {
		hub.webhook = NewWebhookSender(cfg)
	}
	return hub
}

// Subscribe registers an outcome channel and returns its id for removal
func (h *OutcomeHub) Subscribe() (int, <-chan models.SessionOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan models.SessionOutcome, h.config.BufferSize)
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription
func (h *OutcomeHub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish delivers an outcome to all subscribers and the webhook
func (h *OutcomeHub) Publish(ctx context.Context, outcome models.SessionOutcome) {
	h.mu.Lock()
	for _, ch := range h.subscribers {
		select {
		case ch <- outcome:
		default:
			h.logger.WithField("session_id", outcome.SessionID).Warn("Subscriber buffer full, outcome dropped")
		}
	}
	webhook := h.webhook
	h.mu.Unlock()

	if webhook != nil {
		go func() {
			if err := webhook.Send(ctx, outcome); err != nil {
				h.logger.WithError(err).WithField("session_id", outcome.SessionID).Error("Webhook delivery failed")
			}
		}()
	}
}
