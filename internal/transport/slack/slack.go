// Package slack posts messages to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"outreach/internal/transport"
)

type Webhook struct {
	url    string
	client *http.Client
}

func New(webhookURL string, timeout time.Duration) (*Webhook, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: webhookURL, client: &http.Client{Timeout: timeout}}, nil
}

func (*Webhook) Name() string { return "slack" }

func (w *Webhook) Send(ctx context.Context, m transport.Message) error {
	payload, err := json.Marshal(map[string]string{"text": m.Body()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("slack webhook: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("%w: slack webhook: http %d: %s", transport.ErrPermanent, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
