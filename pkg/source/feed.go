package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// FeedOptions describes an RSS/Atom endpoint. URL and Fallbacks may contain a
// {query} placeholder that is replaced with the escaped request query, e.g.
// "https://nitter.net/{query}/rss" or "https://rsshub.app/telegram/channel/{query}".
type FeedOptions struct {
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	Fallbacks []string `yaml:"fallbacks"`
	Source    string   `yaml:"source"`
	Method    string   `yaml:"method"`
	// Filter keeps only entries that mention a crypto keyword.
	Filter bool `yaml:"filter"`
}

// Feed reads one RSS/Atom endpoint, trying each fallback URL in order
// until one answers.
type Feed struct {
	opts    FeedOptions
	client  *http.Client
	limiter *rate.Limiter
	parser  *gofeed.Parser
	filter  *Filter
	log     logger.Logger
}

// NewFeed creates a feed adapter. Source defaults to "rss" and Method to "rss".
func NewFeed(opts FeedOptions, filter *Filter, log logger.Logger) *Feed {
	if opts.Source == "" {
		opts.Source = SourceRSS
	}
	if opts.Method == "" {
		opts.Method = "rss"
	}
	if filter == nil {
		filter = NewFilter(nil, nil)
	}
	return &Feed{
		opts:    opts,
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: newLimiter(),
		parser:  gofeed.NewParser(),
		filter:  filter,
		log:     log,
	}
}

func (f *Feed) Name() string   { return f.opts.Source }
func (f *Feed) Method() string { return f.opts.Method }

func (f *Feed) Fetch(ctx context.Context, req Request) []post.Post {
	return run(ctx, f.log, f.opts.Source, req, f.fetch)
}

func (f *Feed) fetch(ctx context.Context, req Request, want int) ([]post.Post, error) {
	query := strings.TrimPrefix(strings.TrimSpace(req.Query), "@")
	var errs []error
	for _, tmpl := range append([]string{f.opts.URL}, f.opts.Fallbacks...) {
		if tmpl == "" {
			continue
		}
		feedURL := strings.ReplaceAll(tmpl, "{query}", url.PathEscape(query))
		parsed, err := f.get(ctx, feedURL)
		if err != nil {
			errs = append(errs, err)
			f.log.Debug("feed endpoint failed", logger.String("feed", f.opts.Name), logger.String("url", feedURL), logger.Error(err))
			continue
		}
		return f.toPosts(parsed, feedURL, query, want), nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("feed %s: no url configured", f.opts.Name)
	}
	return nil, fmt.Errorf("feed %s: %w", f.opts.Name, errors.Join(errs...))
}

func (f *Feed) get(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s status %d", feedURL, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feedURL, err)
	}
	return parsed, nil
}

func (f *Feed) toPosts(parsed *gofeed.Feed, feedURL, query string, want int) []post.Post {
	var posts []post.Post
	for _, entry := range parsed.Items {
		if len(posts) >= want {
			break
		}
		title := strings.TrimSpace(entry.Title)
		text := stripHTML(firstNonEmpty(entry.Content, entry.Description))
		if title == "" && text == "" {
			continue
		}
		if f.opts.Filter && !f.filter.Matches(title+" "+text) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		if f.opts.Source == SourceTwitter {
			link = nitterToX(link)
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}
		if author == "" && query != "" {
			author = query
		}

		created := ""
		if entry.PublishedParsed != nil {
			created = isoUTC(*entry.PublishedParsed)
		} else if entry.UpdatedParsed != nil {
			created = isoUTC(*entry.UpdatedParsed)
		}

		posts = append(posts, post.Post{
			ID:         entryID(entry, link),
			Source:     f.opts.Source,
			Title:      truncate(firstNonEmpty(title, text), 300),
			Text:       text,
			CreatedUTC: created,
			Author:     author,
			Subreddit:  firstNonEmpty(query, parsed.Title),
			URL:        link,
		})
	}
	if len(posts) == 0 {
		f.log.Debug("feed returned no entries", logger.String("url", feedURL))
	}
	return posts
}

// nitterToX rewrites a Nitter status link to its x.com equivalent.
func nitterToX(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" || u.Host == "x.com" || u.Host == "twitter.com" {
		return link
	}
	u.Scheme = "https"
	u.Host = "x.com"
	u.Fragment = ""
	return u.String()
}

// entryID prefers the feed GUID and falls back to a hash of the link.
func entryID(entry *gofeed.Item, link string) string {
	if id := strings.TrimSpace(entry.GUID); id != "" {
		return id
	}
	if link == "" {
		return ""
	}
	sum := sha1.Sum([]byte(link))
	return hex.EncodeToString(sum[:8])
}

func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
