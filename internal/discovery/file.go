package discovery

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"outreach/internal/domain"
)

// FileSource reads candidates from a CSV file with rows "handle[,url[,keyword]]".
// Lines starting with '#' are comments. The file is re-read on every pass.
type FileSource struct {
	path string
	now  func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (f *FileSource) Discover(ctx context.Context, c Criteria) ([]domain.Candidate, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, domain.Unavailable(fmt.Errorf("open candidates file: %w", err))
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	wanted := map[string]bool{}
	for _, k := range c.Keywords {
		wanted[strings.ToLower(strings.TrimSpace(k))] = true
	}
	perKeyword := map[string]int{}
	now := f.now()
	limit := c.Limit()

	var out []domain.Candidate
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candidates file: %w", err)
		}
		cand := domain.Candidate{ID: field(rec, 0), URL: field(rec, 1), Keyword: field(rec, 2), Source: "file", DiscoveredAt: now}
		if cand.ID == "" {
			continue
		}
		kw := strings.ToLower(cand.Keyword)
		if kw != "" && len(wanted) > 0 && !wanted[kw] {
			continue
		}
		if c.MaxUsersPerKeyword > 0 && perKeyword[kw] >= c.MaxUsersPerKeyword {
			continue
		}
		perKeyword[kw]++
		out = append(out, cand)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
