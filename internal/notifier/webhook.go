package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier POSTs guard notifications to an external push
// gateway. The gateway owns device tokens and delivery retries beyond
// the short retry window here.
type WebhookNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// webhookPayload is the push-gateway request body.
type webhookPayload struct {
	GuardID string  `json:"guard_id"`
	Message Message `json:"message"`
}

// NewWebhookNotifier creates a webhook notifier for the gateway URL.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Notify posts one message to the gateway.
func (n *WebhookNotifier) Notify(ctx context.Context, guardID string, msg Message) error {
	if guardID == "" {
		return fmt.Errorf("guard_id is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(webhookPayload{GuardID: guardID, Message: msg}).
		Post("")
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Guard notified",
		zap.String("guard_id", guardID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("status", resp.StatusCode()),
	)

	return nil
}

// Close is a no-op; resty has no persistent connection to release.
func (n *WebhookNotifier) Close() error {
	return nil
}
