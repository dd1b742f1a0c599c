package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"outreach/internal/domain"
	"outreach/internal/gate"
	"outreach/internal/history"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

type setBlacklist struct {
	listed map[string]bool
	err    error
	calls  int
}

func (b *setBlacklist) IsBlacklisted(_ context.Context, id string) (bool, error) {
	b.calls++
	if b.err != nil {
		return false, b.err
	}
	return b.listed[id], nil
}

type fixedHeadroom int

func (h fixedHeadroom) Headroom(time.Time) int { return int(h) }

type noCooldown struct{}

func (noCooldown) IsOnCooldown(string, time.Time) bool { return false }

type echoRenderer struct{}

func (echoRenderer) Render(c domain.Candidate) string { return "hi " + c.ID }

func candidates(ids ...string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Candidate{ID: id})
	}
	return out
}

func ids(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Candidate.ID)
	}
	return out
}

func TestBuildQueueScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	asOf := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	backend := storage.NewMemory()
	hist, err := history.Open(ctx, backend, history.Config{}, asOf, logx.Nop())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	if err := hist.Record(ctx, domain.HistoryEntry{Recipient: "A", At: asOf.AddDate(0, 0, -10), Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	g, err := gate.New(ctx, nil, gate.Config{DailyMax: 3, BlockedHours: []int{3, 4, 5}}, gate.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	bl := &setBlacklist{listed: map[string]bool{"b": true}}

	p := New(hist, bl, g, echoRenderer{}, logx.Nop())
	tasks, st, err := p.BuildQueue(ctx, candidates("A", "B", "C", "D"), asOf)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if got, want := ids(tasks), []string{"c", "d"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	if st.OnCooldown != 1 || st.Blacklisted != 1 || st.Capped != 0 || st.Queued != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if tasks[0].Message != "hi c" || tasks[0].ID == "" || tasks[0].ID == tasks[1].ID {
		t.Fatalf("task binding = %+v", tasks[0])
	}
}

func TestBuildQueueDedupKeepsFirstAndOrder(t *testing.T) {
	t.Parallel()
	in := []domain.Candidate{
		{ID: "x", Keyword: "first"},
		{ID: "@Y"},
		{ID: "X", Keyword: "second"},
		{ID: "  "},
		{ID: "z"},
		{ID: "y"},
	}
	p := New(noCooldown{}, nil, fixedHeadroom(10), nil, logx.Nop())
	tasks, st, err := p.BuildQueue(context.Background(), in, time.Now())
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if got, want := ids(tasks), []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	if tasks[0].Candidate.Keyword != "first" {
		t.Fatalf("first occurrence lost: %+v", tasks[0].Candidate)
	}
	if st.Duplicates != 2 || st.Invalid != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBuildQueueCapsAtHeadroom(t *testing.T) {
	t.Parallel()
	p := New(noCooldown{}, nil, fixedHeadroom(2), nil, logx.Nop())
	tasks, st, err := p.BuildQueue(context.Background(), candidates("a", "b", "c", "d"), time.Now())
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if got, want := ids(tasks), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	if st.Capped != 2 {
		t.Fatalf("capped = %d, want 2", st.Capped)
	}
}

func TestBuildQueueFailsClosed(t *testing.T) {
	t.Parallel()
	bl := &setBlacklist{err: domain.Unavailable(errors.New("sheet timeout"))}
	p := New(noCooldown{}, bl, fixedHeadroom(10), nil, logx.Nop())

	tasks, _, err := p.BuildQueue(context.Background(), candidates("a", "b", "c"), time.Now())
	if len(tasks) != 0 {
		t.Fatalf("queue = %v, want empty", ids(tasks))
	}
	if !domain.IsUnavailable(err) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestBuildQueueUnknownBlacklistErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	bl := &setBlacklist{err: errors.New("boom")}
	p := New(noCooldown{}, bl, fixedHeadroom(10), nil, logx.Nop())

	_, _, err := p.BuildQueue(context.Background(), candidates("a"), time.Now())
	if !domain.IsUnavailable(err) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
