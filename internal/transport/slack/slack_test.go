package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outreach/internal/transport"
)

func TestSendPostsText(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	wh, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := wh.Send(context.Background(), transport.Message{Title: "Daily report", Text: "sent: 3"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if want := "Daily report\nsent: 3"; got["text"] != want {
		t.Fatalf("text = %q, want %q", got["text"], want)
	}
}

func TestSendClassifiesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
	}{
		{status: http.StatusTooManyRequests},
		{status: http.StatusBadGateway},
		{status: http.StatusForbidden, permanent: true},
		{status: http.StatusNotFound, permanent: true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		wh, _ := New(srv.URL, time.Second)
		err := wh.Send(context.Background(), transport.Message{Text: "x"})
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: Send() error = nil, want error", tt.status)
		}
		if got := errors.Is(err, transport.ErrPermanent); got != tt.permanent {
			t.Fatalf("status %d: permanent = %v, want %v", tt.status, got, tt.permanent)
		}
	}
}

func TestNewRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := New("  ", 0); err == nil {
		t.Fatalf("New() error = nil, want error")
	}
}
