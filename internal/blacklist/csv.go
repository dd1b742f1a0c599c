package blacklist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"outreach/internal/domain"
)

// Loader fetches the whole blacklist.
type Loader interface {
	Load(ctx context.Context) (Set, error)
}

// FileLoader reads column Column (1-based) of a local CSV file.
type FileLoader struct {
	Path   string
	Column int
}

func (f FileLoader) Load(ctx context.Context) (Set, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, domain.Unavailable(fmt.Errorf("open blacklist: %w", err))
	}
	defer fh.Close()
	return readColumn(ctx, fh, f.Column)
}

// URLLoader downloads a CSV export (for example a published spreadsheet) and
// reads column Column (1-based).
type URLLoader struct {
	URL    string
	Column int
	Client *http.Client
}

func (u URLLoader) Load(ctx context.Context) (Set, error) {
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build blacklist request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.Unavailable(fmt.Errorf("fetch blacklist: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Unavailable(fmt.Errorf("fetch blacklist: %s", resp.Status))
	}
	return readColumn(ctx, resp.Body, u.Column)
}

func readColumn(ctx context.Context, r io.Reader, column int) (Set, error) {
	col := max(column, 1) - 1
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	set := Set{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			return nil, domain.Unavailable(fmt.Errorf("parse blacklist: %w", err))
		}
		if col >= len(rec) {
			continue
		}
		if id := Normalize(rec[col]); id != "" {
			set[id] = struct{}{}
		}
	}
}
