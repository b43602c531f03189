package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

const HeaderEventKind = "X-PeopleHub-Event"

// WebhookSink POSTs each event as JSON to a fixed URL. Transport errors and
// 5xx responses are retried by resty; any non-2xx final status is an error.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, ev models.LifecycleEvent) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader(HeaderEventKind, string(ev.Kind)).
		SetBody(ev).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
