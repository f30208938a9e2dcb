package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// Bluesky searches posts through the public AT Protocol AppView.
type Bluesky struct {
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
	baseURL string
}

// NewBluesky creates a Bluesky adapter. An empty baseURL selects the public AppView.
func NewBluesky(baseURL string, log logger.Logger) *Bluesky {
	if baseURL == "" {
		baseURL = "https://public.api.bsky.app"
	}
	return &Bluesky{
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: newLimiter(),
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (b *Bluesky) Name() string   { return SourceBluesky }
func (b *Bluesky) Method() string { return "api" }

// Fetch runs searchPosts for req.Query, latest first.
func (b *Bluesky) Fetch(ctx context.Context, req Request) []post.Post {
	return run(ctx, b.log, SourceBluesky, req, b.fetch)
}

func (b *Bluesky) fetch(ctx context.Context, req Request, want int) ([]post.Post, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("bluesky: empty query")
	}

	var posts []post.Post
	seen := make(map[string]bool)
	cursor := ""
	for len(posts) < want {
		params := url.Values{}
		params.Set("q", query)
		params.Set("sort", "latest")
		params.Set("limit", strconv.Itoa(min(100, want)))
		if req.StartDate != "" {
			params.Set("since", req.StartDate+"T00:00:00Z")
		}
		if until, ok := dayAfter(req.EndDate); ok {
			params.Set("until", until)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp blueskySearch
		if err := getJSON(ctx, b.client, b.limiter, b.baseURL+"/xrpc/app.bsky.feed.searchPosts?"+params.Encode(), nil, &resp); err != nil {
			return posts, fmt.Errorf("search %q: %w", query, err)
		}

		for _, v := range resp.Posts {
			if seen[v.URI] {
				continue
			}
			seen[v.URI] = true
			if p, ok := v.toPost(); ok {
				posts = append(posts, p)
			}
		}

		cursor = resp.Cursor
		if cursor == "" || len(resp.Posts) == 0 {
			break
		}
	}
	return posts, nil
}

func dayAfter(day string) (string, bool) {
	if day == "" {
		return "", false
	}
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02") + "T00:00:00Z", true
}

type blueskySearch struct {
	Cursor string            `json:"cursor"`
	Posts  []blueskyPostView `json:"posts"`
}

type blueskyPostView struct {
	URI    string `json:"uri"`
	Author struct {
		Handle string `json:"handle"`
		DID    string `json:"did"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	IndexedAt  string `json:"indexedAt"`
	LikeCount  int    `json:"likeCount"`
	ReplyCount int    `json:"replyCount"`
}

func (v blueskyPostView) toPost() (post.Post, bool) {
	text := strings.TrimSpace(v.Record.Text)
	if text == "" {
		return post.Post{}, false
	}
	id := v.URI
	if i := strings.LastIndex(v.URI, "/"); i >= 0 {
		id = v.URI[i+1:]
	}
	handle := v.Author.Handle
	if handle == "" {
		handle = v.Author.DID
	}
	created := v.Record.CreatedAt
	if created == "" {
		created = v.IndexedAt
	}
	link := ""
	if id != "" && handle != "" {
		link = fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, id)
	}
	replies := v.ReplyCount
	return post.Post{
		ID:          id,
		Source:      SourceBluesky,
		Title:       truncate(text, 300),
		Text:        text,
		Score:       v.LikeCount + v.ReplyCount,
		CreatedUTC:  created,
		Author:      handle,
		URL:         link,
		NumComments: &replies,
	}, true
}
