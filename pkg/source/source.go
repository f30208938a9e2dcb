// Package source fetches crypto-related posts from social platforms and
// feeds. Every adapter returns canonical posts and swallows its own
// failures: a broken source yields an empty result, never an error.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// Platform names used as the post source.
const (
	SourceReddit     = "reddit"
	SourceStockTwits = "stocktwits"
	SourceBluesky    = "bluesky"
	SourceTwitter    = "twitter"
	SourceTelegram   = "telegram"
	SourceRSS        = "rss"
)

const (
	userAgent      = "cryptosent/1.0"
	defaultTimeout = 30 * time.Second
	defaultLimit   = 100

	// maxOverFetch bounds how far an adapter pages when a date range forces
	// client-side filtering.
	maxOverFetch = 1000

	// requestsPerSecond paces paginated requests against one platform.
	requestsPerSecond = 1
)

// Request describes one fetch. StartDate and EndDate are inclusive
// YYYY-MM-DD bounds on the publication date.
type Request struct {
	Query     string
	Limit     int
	StartDate string
	EndDate   string
}

// Source is implemented by every platform adapter.
type Source interface {
	// Name is the platform, stored as the post source.
	Name() string
	// Method names how the platform is reached, stored as the post method.
	Method() string
	// Fetch returns at most req.Limit posts, or nil on failure.
	Fetch(ctx context.Context, req Request) []post.Post
}

func (r Request) limit() int {
	if r.Limit <= 0 {
		return defaultLimit
	}
	return r.Limit
}

// target is how many raw items an adapter should collect before filtering.
func (r Request) target(dates post.DateRange) int {
	n := r.limit()
	if !dates.Active() {
		return n
	}
	n *= 3
	if n > maxOverFetch {
		n = maxOverFetch
	}
	return n
}

// fetchFunc is the fallible core of an adapter.
type fetchFunc func(ctx context.Context, req Request, want int) ([]post.Post, error)

// run applies the shared adapter contract around fn: date range parsing,
// error swallowing, client-side date filtering and the limit.
func run(ctx context.Context, log logger.Logger, name string, req Request, fn fetchFunc) []post.Post {
	dates, err := post.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		log.Warn("invalid date range", logger.String("source", name), logger.Error(err))
		return nil
	}

	posts, err := fn(ctx, req, req.target(dates))
	if err != nil {
		if len(posts) == 0 {
			log.Warn("fetch failed", logger.String("source", name), logger.String("query", req.Query), logger.Error(err))
			return nil
		}
		log.Warn("fetch stopped early, keeping partial results",
			logger.String("source", name),
			logger.Int("kept", len(posts)),
			logger.Error(err))
	}

	posts = dates.Filter(posts)
	if limit := req.limit(); len(posts) > limit {
		posts = posts[:limit]
	}
	log.Debug("fetched", logger.String("source", name), logger.String("query", req.Query), logger.Int("posts", len(posts)))
	return posts
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// getJSON waits for the limiter, performs a GET and decodes a JSON body into out.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url string, headers map[string]string, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s status %d: %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
