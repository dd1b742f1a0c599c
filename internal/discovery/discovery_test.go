package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

func ids(cs []domain.Candidate) string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return strings.Join(out, ",")
}

func TestHandleFromHref(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://x.example/Alice":         "alice",
		"/bob?ref=search":                 "bob",
		"https://x.example/carol/":        "carol",
		"https://x.example/dave/status/1": "",
		"https://x.example/search?q=go":   "",
		"https://x.example/i/flow/login":  "",
		"https://x.example":               "",
		"":                                "",
	}
	for in, want := range tests {
		if got := handleFromHref(in); got != want {
			t.Fatalf("handleFromHref(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidates.csv")
	body := "# handle,url,keyword\n@Alice,https://x.example/alice,golang\nbob,,golang\ncarol,,rust\ndave,,python\n,,golang\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewFileSource(path)
	got, err := src.Discover(context.Background(), Criteria{Keywords: []string{"golang", "rust"}, MaxUsersPerKeyword: 1})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if ids(got) != "@Alice,carol" {
		t.Fatalf("Discover() = %s, want @Alice,carol", ids(got))
	}
	if got[0].Source != "file" || got[0].URL != "https://x.example/alice" {
		t.Fatalf("candidate = %+v, want file source with url", got[0])
	}
}

func TestFileSourceMissingIsUnavailable(t *testing.T) {
	t.Parallel()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "none.csv")).Discover(context.Background(), Criteria{})
	if !domain.IsUnavailable(err) {
		t.Fatalf("Discover() error = %v, want unavailable", err)
	}
}

func resultsServer(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/search?q=golang&page=1": `<div class="u"><a href="/alice">a</a><a href="/bob">b</a><a href="/alice/status/9">s</a></div><a class="next" href="#">next</a>`,
		"/search?q=golang&page=2": `<div class="u"><a href="/carol">c</a></div>`,
		"/search?q=rust&page=1":   `<div class="u"><a href="/bob">b</a><a href="/erin">e</a></div>`,
		"/alice/following?page=1": `<div class="u"><a href="/bob">b</a><a href="/frank">f</a></div>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html><body>"+body+"</body></html>")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTMLSource(t *testing.T, base string) *HTMLSource {
	t.Helper()
	src, err := NewHTMLSource(HTMLConfig{
		SearchURL:    base + "/search?q={keyword}&page={page}",
		FollowingURL: base + "/{handle}/following?page={page}",
		LinkSelector: "div.u a[href]",
		NextSelector: "a.next",
		RatePerSec:   1000,
		Timeout:      time.Second,
	}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTMLSource() error = %v", err)
	}
	return src
}

func TestHTMLSourceDiscover(t *testing.T) {
	t.Parallel()

	srv := resultsServer(t)
	src := newTestHTMLSource(t, srv.URL)

	got, err := src.Discover(context.Background(), Criteria{Keywords: []string{"golang", "rust"}, MaxPages: 3, MaxUsersPerKeyword: 10})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if ids(got) != "alice,bob,carol,erin" {
		t.Fatalf("Discover() = %s, want alice,bob,carol,erin", ids(got))
	}
	if got[0].Keyword != "golang" || got[3].Keyword != "rust" || got[0].URL != srv.URL+"/alice" {
		t.Fatalf("candidates = %+v", got)
	}
}

func TestHTMLSourceAllKeywordsFailing(t *testing.T) {
	t.Parallel()

	srv := resultsServer(t)
	src := newTestHTMLSource(t, srv.URL)

	_, err := src.Discover(context.Background(), Criteria{Keywords: []string{"nothing"}})
	if !domain.IsUnavailable(err) {
		t.Fatalf("Discover() error = %v, want unavailable", err)
	}
}

type fakeFollowing map[string][]domain.Candidate

func (f fakeFollowing) Following(_ context.Context, seed domain.Candidate, _ int) ([]domain.Candidate, error) {
	if seed.ID == "broken" {
		return nil, errors.New("boom")
	}
	return f[seed.ID], nil
}

func TestExpand(t *testing.T) {
	t.Parallel()

	src := fakeFollowing{
		"a": {{ID: "b"}, {ID: "x"}},
		"c": {{ID: "y"}, {ID: "X"}},
		"d": {{ID: "z"}},
	}
	seeds := []domain.Candidate{{ID: "a"}, {ID: "broken"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	got := Expand(context.Background(), src, seeds, 4, 1, logx.Nop())
	if ids(got) != "x,y" {
		t.Fatalf("Expand() = %s, want x,y", ids(got))
	}
}

func TestHTMLFollowingExpansion(t *testing.T) {
	t.Parallel()

	srv := resultsServer(t)
	src := newTestHTMLSource(t, srv.URL)

	got := Expand(context.Background(), src, []domain.Candidate{{ID: "alice", Keyword: "golang"}, {ID: "bob"}}, 10, 1, logx.Nop())
	if ids(got) != "frank" {
		t.Fatalf("Expand() = %s, want frank", ids(got))
	}
	if got[0].Source != "following" || got[0].Keyword != "golang" {
		t.Fatalf("candidate = %+v, want following source tagged golang", got[0])
	}
}
