package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookChannel posts events as JSON to an operator-configured URL.
type WebhookChannel struct {
	client *resty.Client
	url    string
}

type webhookBody struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// NewWebhookChannel creates a channel posting to url.
func NewWebhookChannel(url string) (*WebhookChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL cannot be empty")
	}
	client := resty.New().
		SetTimeout(5*time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookChannel{client: client, url: url}, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// Deliver implements Channel. Any non-2xx response is a failure.
func (w *WebhookChannel) Deliver(ctx context.Context, event *Event) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Event-ID", event.ID).
		SetBody(webhookBody{
			ID:        event.ID,
			Event:     event.EventType,
			CreatedAt: event.CreatedAt,
			Data:      event.Data,
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s", resp.Status())
	}
	return nil
}
