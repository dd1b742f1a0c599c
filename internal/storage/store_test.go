package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "file", "outreach")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "outreach.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		},
	}
}

func TestAppendHistoryIsIdempotentPerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			e := domain.HistoryEntry{Recipient: "alice", At: at, Outcome: domain.OutcomeSuccess}
			ok, err := st.AppendHistory(ctx, e)
			if err != nil || !ok {
				t.Fatalf("first append = %v, %v; want true, nil", ok, err)
			}
			ok, err = st.AppendHistory(ctx, e)
			if err != nil || ok {
				t.Fatalf("duplicate append = %v, %v; want false, nil", ok, err)
			}
			// same recipient, later attempt is legitimate history
			e.At = at.Add(time.Hour)
			e.Outcome = domain.OutcomeFailed
			e.Error = "timeout"
			if ok, err := st.AppendHistory(ctx, e); err != nil || !ok {
				t.Fatalf("second attempt append = %v, %v; want true, nil", ok, err)
			}

			got, err := st.LoadHistory(ctx, time.Time{})
			if err != nil {
				t.Fatalf("LoadHistory: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len(history) = %d, want 2", len(got))
			}
			if got[1].Error != "timeout" || got[1].Outcome != domain.OutcomeFailed {
				t.Fatalf("history[1] = %+v", got[1])
			}
		})
	}
}

func TestPurgeHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			for i := 0; i < 5; i++ {
				e := domain.HistoryEntry{Recipient: "r", At: base.AddDate(0, 0, i*10), Outcome: domain.OutcomeSuccess}
				if _, err := st.AppendHistory(ctx, e); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			n, err := st.PurgeHistory(ctx, base.AddDate(0, 0, 25))
			if err != nil {
				t.Fatalf("PurgeHistory: %v", err)
			}
			if n != 3 {
				t.Fatalf("purged = %d, want 3", n)
			}
			got, _ := st.LoadHistory(ctx, time.Time{})
			if len(got) != 2 {
				t.Fatalf("len(history) = %d, want 2", len(got))
			}
			// still writable after the rewrite
			if _, err := st.AppendHistory(ctx, domain.HistoryEntry{Recipient: "z", At: base.AddDate(1, 0, 0), Outcome: domain.OutcomeFailed}); err != nil {
				t.Fatalf("append after purge: %v", err)
			}
			since, _ := st.LoadHistory(ctx, base.AddDate(0, 0, 35))
			if len(since) != 2 {
				t.Fatalf("len(since) = %d, want 2", len(since))
			}
		})
	}
}

func TestGateStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			if _, ok, err := st.LoadGateState(ctx); err != nil || ok {
				t.Fatalf("empty LoadGateState = %v, %v; want false, nil", ok, err)
			}
			want := GateSnapshot{
				Day:      "2025-03-01",
				Count:    7,
				LastSend: time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC),
				NextWait: 33 * time.Second,
			}
			if err := st.SaveGateState(ctx, want); err != nil {
				t.Fatalf("SaveGateState: %v", err)
			}
			got, ok, err := st.LoadGateState(ctx)
			if err != nil || !ok {
				t.Fatalf("LoadGateState = %v, %v", ok, err)
			}
			if got.Day != want.Day || got.Count != want.Count || !got.LastSend.Equal(want.LastSend) || got.NextWait != want.NextWait {
				t.Fatalf("LoadGateState = %+v, want %+v", got, want)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "outreach")
	at := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.AppendHistory(ctx, domain.HistoryEntry{Recipient: "bob", At: at, Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.PutDedup(ctx, "k", at.Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	if ok, _ := st.AppendHistory(ctx, domain.HistoryEntry{Recipient: "bob", At: at, Outcome: domain.OutcomeSuccess}); ok {
		t.Fatalf("append after reopen accepted a duplicate key")
	}
	got, _ := st.LoadHistory(ctx, time.Time{})
	if len(got) != 1 || got[0].Recipient != "bob" {
		t.Fatalf("history after reopen = %+v", got)
	}
}

func TestFileStoreDropsTornLastLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	journal := `{"v":1,"recipient":"carol","at":"2025-05-04T09:00:00Z","outcome":"success"}` + "\n" +
		`{"v":1,"recipient":"bob","at":"2026-`
	if err := os.WriteFile(filepath.Join(dir, "outreach.history.jsonl"), []byte(journal), 0o600); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	path := filepath.Join(dir, "outreach")
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	at := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	if _, err := st.AppendHistory(ctx, domain.HistoryEntry{Recipient: "alice", At: at, Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.LoadHistory(ctx, time.Time{})
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 2 || got[0].Recipient != "carol" || got[1].Recipient != "alice" {
		t.Fatalf("history after reopen = %+v, want carol then alice", got)
	}
}

func TestTruncateTornTail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    string
		dropped int64
	}{
		{name: "clean", content: "a\nb\n", want: "a\nb\n"},
		{name: "torn", content: "a\nb\npart", want: "a\nb\n", dropped: 4},
		{name: "no newline at all", content: "part", want: "", dropped: 4},
		{name: "empty", content: "", want: ""},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "j.jsonl")
		if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		dropped, err := truncateTornTail(path)
		if err != nil {
			t.Fatalf("%s: truncateTornTail: %v", tt.name, err)
		}
		b, _ := os.ReadFile(path)
		if string(b) != tt.want || dropped != tt.dropped {
			t.Fatalf("%s: content = %q dropped = %d, want %q and %d", tt.name, b, dropped, tt.want, tt.dropped)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("Open(postgres) error = nil, want error")
	}
}
