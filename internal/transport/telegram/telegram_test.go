package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "prefers newline", in: "aaaa\nbbbb\ncccc", limit: 10, want: []string{"aaaa\nbbbb", "cccc"}},
		{name: "hard cut", in: strings.Repeat("x", 25), limit: 10, want: []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitText(tt.in, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("SplitText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func fakeAPI(t *testing.T, status int, body string, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*seen = append(*seen, r.URL.Path+" "+string(b))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendCallsSendMessage(t *testing.T) {
	t.Parallel()

	var seen []string
	srv := fakeAPI(t, http.StatusOK, `{"ok":true,"result":{"message_id":7,"chat":{"id":42,"type":"private"}}}`, &seen)

	tr, err := New(Config{Token: "T", ChatID: 42, URL: srv.URL, Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Send(context.Background(), transport.Message{Title: "Daily", Text: "ok"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(seen) != 1 || !strings.HasPrefix(seen[0], "/botT/sendMessage") {
		t.Fatalf("requests = %q, want one sendMessage call", seen)
	}
}

func TestSendUnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()

	var seen []string
	srv := fakeAPI(t, http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, &seen)

	tr, err := New(Config{Token: "T", ChatID: 42, URL: srv.URL, Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = tr.Send(context.Background(), transport.Message{Text: "x"})
	if !errors.Is(err, transport.ErrPermanent) {
		t.Fatalf("Send() error = %v, want ErrPermanent", err)
	}
}

func TestNewRequiresChat(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "T"}, logx.Nop()); err == nil {
		t.Fatalf("New() error = nil, want error")
	}
}
