package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

// HTMLConfig describes result pages. URL templates use {keyword}, {handle}
// and {page} placeholders; {page} starts at 1.
type HTMLConfig struct {
	SearchURL    string
	FollowingURL string
	LinkSelector string
	NextSelector string
	UserAgent    string
	RatePerSec   int
	Timeout      time.Duration
}

// HTMLSource scrapes profile links from search and following pages.
type HTMLSource struct {
	cfg     HTMLConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func NewHTMLSource(cfg HTMLConfig, client *http.Client, log logx.Logger) (*HTMLSource, error) {
	if strings.TrimSpace(cfg.SearchURL) == "" {
		return nil, errors.New("html search url is required")
	}
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = "a[href]"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "outreach/1.0"
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTMLSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log.With(logx.String("comp", "discovery.html")),
		now:     time.Now,
	}, nil
}

// Discover searches every keyword. A failing keyword is logged and skipped;
// the pass fails only when every keyword failed.
func (h *HTMLSource) Discover(ctx context.Context, c Criteria) ([]domain.Candidate, error) {
	seen := map[string]bool{}
	limit := c.Limit()
	var out []domain.Candidate
	var errs []error

	for _, kw := range c.Keywords {
		if limit > 0 && len(out) >= limit {
			break
		}
		found, err := h.collect(ctx, h.cfg.SearchURL, map[string]string{"{keyword}": url.QueryEscape(kw)}, c.MaxPages, c.MaxUsersPerKeyword)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.log.Warn("keyword search failed", logx.String("keyword", kw), logx.Err(err))
			errs = append(errs, fmt.Errorf("keyword %q: %w", kw, err))
			continue
		}
		added := 0
		for _, cand := range found {
			if seen[cand.ID] {
				continue
			}
			seen[cand.ID] = true
			cand.Keyword = kw
			cand.Source = "html"
			out = append(out, cand)
			added++
		}
		h.log.Info("keyword searched", logx.String("keyword", kw), logx.Int("found", added))
	}

	if len(errs) > 0 && len(errs) == len(c.Keywords) {
		return nil, domain.Unavailable(errors.Join(errs...))
	}
	return out, nil
}

func (h *HTMLSource) Following(ctx context.Context, seed domain.Candidate, maxPages int) ([]domain.Candidate, error) {
	if h.cfg.FollowingURL == "" {
		return nil, errors.New("html following url is not configured")
	}
	found, err := h.collect(ctx, h.cfg.FollowingURL, map[string]string{"{handle}": url.PathEscape(domain.NormalizeID(seed.ID))}, maxPages, 0)
	if err != nil {
		return nil, err
	}
	for i := range found {
		found[i].Keyword = seed.Keyword
		found[i].Source = "following"
	}
	return found, nil
}

// collect walks pages 1..maxPages of tmpl. It stops early when a page adds no
// new handle or has no next link.
func (h *HTMLSource) collect(ctx context.Context, tmpl string, vars map[string]string, maxPages, maxUsers int) ([]domain.Candidate, error) {
	maxPages = max(maxPages, 1)
	seen := map[string]bool{}
	var out []domain.Candidate

	for page := 1; page <= maxPages; page++ {
		vars["{page}"] = strconv.Itoa(page)
		pageURL := expand(tmpl, vars)
		doc, err := h.fetch(ctx, pageURL)
		if err != nil {
			if page > 1 && len(out) > 0 {
				h.log.Debug("page fetch failed; keeping earlier pages", logx.String("url", pageURL), logx.Err(err))
				break
			}
			return nil, err
		}

		base, _ := url.Parse(pageURL)
		added := 0
		doc.Find(h.cfg.LinkSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, ok := sel.Attr("href")
			if !ok {
				return true
			}
			id := handleFromHref(href)
			if id == "" || seen[id] {
				return true
			}
			seen[id] = true
			out = append(out, domain.Candidate{ID: id, URL: absolute(base, href), DiscoveredAt: h.now()})
			added++
			return maxUsers <= 0 || len(out) < maxUsers
		})

		if maxUsers > 0 && len(out) >= maxUsers {
			break
		}
		if added == 0 {
			break
		}
		if h.cfg.NextSelector != "" && doc.Find(h.cfg.NextSelector).Length() == 0 {
			break
		}
	}
	return out, nil
}

func (h *HTMLSource) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func expand(tmpl string, vars map[string]string) string {
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, k, v)
	}
	return tmpl
}

func absolute(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
