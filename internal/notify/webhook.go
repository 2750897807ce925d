package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook POSTs notifications as JSON to a fixed URL.
type Webhook struct {
	client *resty.Client
	url    string
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "caremesh-notifier")
	return &Webhook{client: client, url: url}
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post notification for %s: %w", n.SessionID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post notification for %s: webhook returned %s", n.SessionID, resp.Status())
	}
	return nil
}
