// Package registry fetches raw study records from a ClinicalTrials.gov-style
// v2 API. It returns records as raw JSON maps; shaping them into the
// canonical schema is the normalizer's job.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL            = "https://clinicaltrials.gov"
	studiesPath               = "/api/v2/studies"
	DefaultPageSize           = 100
	DefaultMaxStudies         = 1000
	DefaultRateLimitPerMinute = 50
)

type Config struct {
	BaseURL            string
	PageSize           int
	MaxStudies         int
	RateLimitPerMinute int
	HTTPClient         *http.Client
}

type Client struct {
	cfg     Config
	limiter <-chan time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxStudies <= 0 {
		cfg.MaxStudies = DefaultMaxStudies
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	ticker := time.NewTicker(interval)
	return &Client{cfg: cfg, limiter: ticker.C}
}

// Query narrows the fetch. Zero value fetches everything up to MaxStudies.
type Query struct {
	Condition    string
	Status       string
	UpdatedSince string // YYYY-MM-DD; only records updated on or after
}

type studiesResponse struct {
	Studies       []map[string]any `json:"studies"`
	NextPageToken string           `json:"nextPageToken"`
}

// FetchStudies walks the paged endpoint until the page token runs out or
// MaxStudies is reached. Paging and rate limiting live here; the caller just
// gets raw records.
func (c *Client) FetchStudies(ctx context.Context, q Query) ([]map[string]any, error) {
	var out []map[string]any
	pageToken := ""
	for {
		if err := c.waitRateLimit(ctx); err != nil {
			return out, err
		}
		page, next, err := c.fetchPageWithRetry(ctx, q, pageToken)
		if err != nil {
			return out, err
		}
		for _, study := range page {
			out = append(out, study)
			if len(out) >= c.cfg.MaxStudies {
				return out, nil
			}
		}
		if next == "" {
			return out, nil
		}
		pageToken = next
	}
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
		return nil
	}
}

func (c *Client) fetchPageWithRetry(ctx context.Context, q Query, pageToken string) ([]map[string]any, string, error) {
	var lastErr error
	for attempt := 1; attempt <= 4; attempt++ {
		page, next, code, retryAfter, err := c.fetchPage(ctx, q, pageToken)
		if err == nil {
			return page, next, nil
		}
		lastErr = err

		// Connection-level faults report no status code and retry like
		// timeouts; well-formed 4xx responses (rate limits excepted) and
		// decode failures are terminal.
		retryable := code == 0 || code >= 500 || code == http.StatusTooManyRequests || isTimeoutError(err)
		if !retryable {
			return nil, "", err
		}
		if attempt == 4 {
			break
		}
		sleep := backoffDelay(attempt)
		if code == http.StatusTooManyRequests && retryAfter > 0 {
			sleep = retryAfter
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func (c *Client) fetchPage(ctx context.Context, q Query, pageToken string) ([]map[string]any, string, int, time.Duration, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	if q.Condition != "" {
		params.Set("query.cond", q.Condition)
	}
	if q.Status != "" {
		params.Set("filter.overallStatus", q.Status)
	}
	if q.UpdatedSince != "" {
		params.Set("filter.advanced", "AREA[LastUpdatePostDate]RANGE["+q.UpdatedSince+",MAX]")
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + studiesPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", 0, 0, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, "", 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 16<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode >= 400 {
		return nil, "", res.StatusCode, retryAfter, fmt.Errorf("status code: %d body=%s", res.StatusCode, truncateBody(b))
	}

	var parsed studiesResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, "", res.StatusCode, retryAfter, fmt.Errorf("decode studies page: %w", err)
	}
	return parsed.Studies, parsed.NextPageToken, res.StatusCode, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max])
}
