package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

// NDJSON history schema version.
const historySchemaVersion = 1

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl        (append-only JSON Lines, rewritten on purge)
//   - <prefix>.gate.json            (rate-gate snapshot, replaced atomically)
//   - <prefix>.dedup.snapshot.json  (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl  (append-only journal)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File
	keys        map[string]struct{}

	gatePath string

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type historyRecord struct {
	V int `json:"v"`
	domain.HistoryEntry
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		historyPath:       prefix + ".history.jsonl",
		gatePath:          prefix + ".gate.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		keys:              map[string]struct{}{},
		dedup:             map[string]int64{},
	}

	if dropped, err := truncateTornTail(s.historyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("repair history: %w", err)
	} else if dropped > 0 {
		log.Warn("history journal had an incomplete last line; truncated", logx.String("path", s.historyPath), logx.Int64("bytes", dropped))
	}

	entries, err := readHistoryFile(s.historyPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read history: %w", err)
	}
	for _, e := range entries {
		s.keys[e.Key()] = struct{}{}
	}

	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.historyFile = hf

	journalPath := prefix + ".dedup.journal.jsonl"
	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.dedup)
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}
	s.dedupJournalFile = jf

	log.Debug("file store opened", logx.String("history", s.historyPath), logx.Int("entries", len(entries)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.historyFile != nil {
		err1 = s.historyFile.Close()
		s.historyFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendHistory(ctx context.Context, e domain.HistoryEntry) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return false, ErrClosed
	}
	k := e.Key()
	if _, dup := s.keys[k]; dup {
		return false, nil
	}
	b, err := json.Marshal(historyRecord{V: historySchemaVersion, HistoryEntry: e})
	if err != nil {
		return false, fmt.Errorf("marshal history record: %w", err)
	}
	if _, err := s.historyFile.Write(append(b, '\n')); err != nil {
		// a short write must not glue the next record onto its bytes
		if _, terr := truncateTornTail(s.historyPath); terr != nil {
			s.log.Error("history journal repair failed", logx.String("path", s.historyPath), logx.Err(terr))
		}
		return false, fmt.Errorf("append history record: %w", err)
	}
	if err := s.historyFile.Sync(); err != nil {
		return false, fmt.Errorf("sync history: %w", err)
	}
	s.keys[k] = struct{}{}
	return true, nil
}

func (s *fileStore) LoadHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil, ErrClosed
	}
	all, err := readHistoryFile(s.historyPath)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return all, nil
	}
	out := all[:0]
	for _, e := range all {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// PurgeHistory rewrites the journal without entries older than before.
func (s *fileStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return 0, ErrClosed
	}
	all, err := readHistoryFile(s.historyPath)
	if err != nil {
		return 0, err
	}
	keep := make([]domain.HistoryEntry, 0, len(all))
	for _, e := range all {
		if e.At.Before(before) {
			continue
		}
		keep = append(keep, e)
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range keep {
		if err := enc.Encode(historyRecord{V: historySchemaVersion, HistoryEntry: e}); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	_ = s.historyFile.Close()
	s.historyFile = nil
	if err := os.Rename(tmp, s.historyPath); err != nil {
		return 0, err
	}
	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.historyFile = hf

	s.keys = make(map[string]struct{}, len(keep))
	for _, e := range keep {
		s.keys[e.Key()] = struct{}{}
	}
	s.log.Debug("history purged", logx.Int("removed", removed), logx.Int("kept", len(keep)))
	return removed, nil
}

func (s *fileStore) SaveGateState(ctx context.Context, st GateSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.gatePath, st)
}

func (s *fileStore) LoadGateState(ctx context.Context) (GateSnapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.gatePath)
	if errors.Is(err, os.ErrNotExist) {
		return GateSnapshot{}, false, nil
	}
	if err != nil {
		return GateSnapshot{}, false, err
	}
	var st GateSnapshot
	if err := json.Unmarshal(b, &st); err != nil {
		return GateSnapshot{}, false, fmt.Errorf("decode gate snapshot: %w", err)
	}
	return st, true, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[key] = ms

	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%500 == 0 {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactDedupLocked() error {
	pruneExpiredDedup(s.dedup)
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, 2)
	return err
}

func readHistoryFile(path string) ([]domain.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.HistoryEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r historyRecord
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if r.Recipient == "" || r.At.IsZero() {
			continue
		}
		out = append(out, r.HistoryEntry)
	}
	return out, sc.Err()
}

// truncateTornTail cuts path back to just after its last newline so a line
// left incomplete by a crash or a short write is dropped. It returns the
// number of bytes removed.
func truncateTornTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return 0, nil
			}
			return size - keep, truncateSync(f, keep)
		}
		end = start
	}
	if size == 0 {
		return 0, nil
	}
	return size, truncateSync(f, 0)
}

func truncateSync(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return f.Sync()
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
