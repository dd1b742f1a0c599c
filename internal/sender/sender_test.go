package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{status: 200},
		{status: 204},
		{status: 408, want: domain.ErrTransient},
		{status: 429, want: domain.ErrTransient},
		{status: 503, want: domain.ErrTransient},
		{status: 403, want: domain.ErrSkipped},
		{status: 410, want: domain.ErrSkipped},
		{status: 400, want: domain.ErrTerminal},
		{status: 422, want: domain.ErrTerminal},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.status, "")
		if tt.want == nil {
			if err != nil {
				t.Fatalf("ClassifyStatus(%d) = %v, want nil", tt.status, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Fatalf("ClassifyStatus(%d) = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestWebhookSend(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, map[string]string{"Authorization": "Bearer k"}, time.Second)
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}
	if err := wh.Send(context.Background(), "alice", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Recipient != "alice" || got.Message != "hello" || auth != "Bearer k" {
		t.Fatalf("payload = %+v auth = %q", got, auth)
	}
}

func TestWebhookConnectionErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wh, _ := NewWebhook(url, nil, time.Second)
	if err := wh.Send(context.Background(), "alice", "hello"); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Send() error = %v, want transient", err)
	}
}

func TestRecipientOf(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"12345":  "12345",
		"-10042": "-10042",
		"alice":  "@alice",
		"@bob":   "@bob",
	}
	for in, want := range tests {
		if got := recipientOf(in).Recipient(); got != want {
			t.Fatalf("recipientOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTelegramClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "ok", status: 200, body: `{"ok":true,"result":{"message_id":1,"chat":{"id":1,"type":"private"}}}`},
		{name: "blocked", status: 403, body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, want: domain.ErrSkipped},
		{name: "unauthorized", status: 401, body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`, want: domain.ErrTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				_, _ = io.ReadAll(r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			tg, err := NewTelegram("T", srv.URL, time.Second)
			if err != nil {
				t.Fatalf("NewTelegram() error = %v", err)
			}
			err = tg.Send(context.Background(), "alice", "hi")
			if !strings.HasSuffix(path, "/sendMessage") {
				t.Fatalf("path = %q, want sendMessage", path)
			}
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Send() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Send() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	d := NewDryRun(logx.Nop())
	_ = d.Send(context.Background(), "@Alice", "hello")
	if got := d.Sent(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("Sent() = %v, want [alice]", got)
	}
}
