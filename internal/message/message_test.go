package message

import (
	"os"
	"path/filepath"
	"testing"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

func TestRender(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("Hi {{.Handle}}, saw your {{.Keyword}} work")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := tmpl.Render(domain.Candidate{ID: "alice", Keyword: "golang"})
	if want := "Hi alice, saw your golang work"; got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestLoadFallsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "no path", want: "default"},
		{name: "missing file", path: filepath.Join(dir, "missing.txt"), want: "default"},
		{name: "empty file", path: filepath.Join(dir, "empty.txt"), body: " \n", want: "default"},
		{name: "file", path: filepath.Join(dir, "msg.txt"), body: "from file\n", want: "from file"},
	}
	for _, tt := range tests {
		if tt.body != "" {
			if err := os.WriteFile(tt.path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		}
		tmpl, err := Load(tt.path, "default", logx.Nop())
		if err != nil {
			t.Fatalf("%s: Load() error = %v", tt.name, err)
		}
		if got := tmpl.String(); got != tt.want {
			t.Fatalf("%s: message = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseRejectsBadTemplate(t *testing.T) {
	t.Parallel()

	if _, err := Parse("Hi {{.Handle"); err == nil {
		t.Fatalf("Parse() error = nil, want error")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatalf("Parse(empty) error = nil, want error")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("Truncate() = %q, want %q", got, "abc...")
	}
	if got := Truncate("abc", 3); got != "abc" {
		t.Fatalf("Truncate() = %q, want %q", got, "abc")
	}
}
