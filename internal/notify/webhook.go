package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier POSTs each event as JSON to a fixed URL. Delivery is
// attempted once; the scheduler never retries notifications.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookNotifier creates a webhook sink for url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("notify: webhook url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{client: client, url: url, logger: logger}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return fmt.Errorf("notify: deliver %s: %w", event.Type, err)
	}
	if resp.IsError() {
		n.logger.Warn("webhook rejected event",
			zap.String("event_type", string(event.Type)),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("notify: deliver %s: unexpected status %d", event.Type, resp.StatusCode())
	}
	return nil
}
