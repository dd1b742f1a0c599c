package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var historyColumns = []string{"recipient", "at_ns", "outcome", "retries", "url", "keyword", "err", "message"}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 200}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e domain.HistoryEntry) (bool, error) {
	res, err := sq.Insert("history").
		Columns(historyColumns...).
		Values(e.Recipient, e.At.UnixNano(), string(e.Outcome), e.Retries,
			nullStr(e.URL), nullStr(e.Keyword), nullStr(e.Error), nullStr(e.Message)).
		Suffix("ON CONFLICT(recipient, at_ns) DO NOTHING").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) LoadHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	q := sq.Select(historyColumns...).From("history").OrderBy("at_ns ASC", "rowid ASC")
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"at_ns": since.UnixNano()})
	}
	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e                        domain.HistoryEntry
			atNS                     int64
			outcome                  string
			url, keyword, errS, msgS sql.NullString
		)
		if err := rows.Scan(&e.Recipient, &atNS, &outcome, &e.Retries, &url, &keyword, &errS, &msgS); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, atNS)
		e.Outcome = domain.Outcome(outcome)
		e.URL = url.String
		e.Keyword = keyword.String
		e.Error = errS.String
		e.Message = msgS.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	res, err := sq.Delete("history").
		Where(sq.Lt{"at_ns": before.UnixNano()}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) SaveGateState(ctx context.Context, st GateSnapshot) error {
	var last int64
	if !st.LastSend.IsZero() {
		last = st.LastSend.UnixNano()
	}
	_, err := sq.Insert("gate_state").
		Columns("id", "day", "count", "last_send_ns", "next_wait_ns").
		Values(1, st.Day, st.Count, last, int64(st.NextWait)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET day=excluded.day, count=excluded.count,
			last_send_ns=excluded.last_send_ns, next_wait_ns=excluded.next_wait_ns`).
		RunWith(s.db).
		ExecContext(ctx)
	return err
}

func (s *sqliteStore) LoadGateState(ctx context.Context) (GateSnapshot, bool, error) {
	var (
		st     GateSnapshot
		lastNS int64
		waitNS int64
	)
	err := sq.Select("day", "count", "last_send_ns", "next_wait_ns").
		From("gate_state").
		Where(sq.Eq{"id": 1}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&st.Day, &st.Count, &lastNS, &waitNS)
	if errors.Is(err, sql.ErrNoRows) {
		return GateSnapshot{}, false, nil
	}
	if err != nil {
		return GateSnapshot{}, false, err
	}
	if lastNS != 0 {
		st.LastSend = time.Unix(0, lastNS)
	}
	st.NextWait = time.Duration(waitNS)
	return st, true, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := sq.Insert("dedup").
		Columns("key", "until").
		Values(key, until.UnixMilli()).
		Suffix("ON CONFLICT(key) DO UPDATE SET until=excluded.until").
		RunWith(s.db).
		ExecContext(ctx)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_, _ = sq.Delete("dedup").Where(sq.Lt{"until": time.Now().UnixMilli()}).RunWith(s.db).ExecContext(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := sq.Select("until").From("dedup").Where(sq.Eq{"key": key}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
