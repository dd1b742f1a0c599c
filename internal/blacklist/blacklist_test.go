package blacklist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"@Alice":                        "alice",
		" bob ":                         "bob",
		"https://x.example/Carol":       "carol",
		"https://x.example/dave/?ref=1": "dave",
		"https://x.example/":            "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileLoaderColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blacklist.csv")
	body := "name,url\nA,https://x.example/alice\nB,@Bob\nC\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	set, err := FileLoader{Path: path, Column: 2}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, id := range []string{"alice", "@BOB"} {
		if ok, _ := set.IsBlacklisted(context.Background(), id); !ok {
			t.Fatalf("IsBlacklisted(%q) = false, want true", id)
		}
	}
	if ok, _ := set.IsBlacklisted(context.Background(), "carol"); ok {
		t.Fatalf("IsBlacklisted(carol) = true, want false")
	}
}

func TestCachedReloadsAfterTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, "https://x.example/user%d\n", n)
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCached(URLLoader{URL: srv.URL}, time.Minute, logx.Nop())
	c.now = func() time.Time { return now }

	if ok, err := c.IsBlacklisted(context.Background(), "user1"); err != nil || !ok {
		t.Fatalf("IsBlacklisted(user1) = %v, %v, want true, nil", ok, err)
	}
	now = now.Add(30 * time.Second)
	_, _ = c.IsBlacklisted(context.Background(), "user1")
	if got := hits.Load(); got != 1 {
		t.Fatalf("loads = %d, want 1 inside TTL", got)
	}

	now = now.Add(time.Minute)
	if ok, _ := c.IsBlacklisted(context.Background(), "user2"); !ok {
		t.Fatalf("IsBlacklisted(user2) = false after reload, want true")
	}
}

func TestCachedFailsClosed(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "alice")
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCached(URLLoader{URL: srv.URL}, time.Minute, logx.Nop())
	c.now = func() time.Time { return now }
	if _, err := c.IsBlacklisted(context.Background(), "bob"); err != nil {
		t.Fatalf("IsBlacklisted() error = %v", err)
	}

	fail.Store(true)
	now = now.Add(2 * time.Minute)
	_, err := c.IsBlacklisted(context.Background(), "bob")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("IsBlacklisted() error = %v, want ErrUnavailable", err)
	}
}

func TestRedisUnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	r := NewRedis(RedisConfig{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
	defer r.Close()

	ok, err := r.IsBlacklisted(context.Background(), "alice")
	if ok || !domain.IsUnavailable(err) {
		t.Fatalf("IsBlacklisted() = %v, %v, want false, unavailable", ok, err)
	}
}
