package sender

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

	"outreach/internal/domain"
)

// Webhook posts {"recipient", "message"} as JSON to an HTTP endpoint that
// performs the actual delivery.
//
// Status mapping: 2xx delivered; 408, 429 and 5xx transient; 403, 404 and 410
// skipped (recipient unreachable); any other 4xx terminal.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhook(url string, headers map[string]string, timeout time.Duration) (*Webhook, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{url: url, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

type webhookPayload struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

func (w *Webhook) Send(ctx context.Context, recipient, text string) error {
	body, err := json.Marshal(webhookPayload{Recipient: recipient, Message: text})
	if err != nil {
		return domain.Terminal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return domain.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(fmt.Errorf("webhook: %w", err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// ClassifyStatus maps an HTTP status to a delivery error (nil on 2xx).
func ClassifyStatus(status int, detail string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("webhook: http %d", status)
	if detail != "" {
		err = fmt.Errorf("webhook: http %d: %s", status, detail)
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return domain.Transient(err)
	case status == http.StatusForbidden, status == http.StatusNotFound, status == http.StatusGone:
		return domain.Skipped(err.Error())
	default:
		return domain.Terminal(err)
	}
}
