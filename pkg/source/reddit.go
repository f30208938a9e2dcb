package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// Reddit reads the newest posts of a subreddit. With client credentials it
// uses the OAuth API; without them, the public JSON listing.
type Reddit struct {
	client       *http.Client
	limiter      *rate.Limiter
	log          logger.Logger
	clientID     string
	clientSecret string
	publicBase   string
	oauthBase    string
	tokenURL     string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewReddit creates a Reddit adapter. Credentials may be empty.
func NewReddit(clientID, clientSecret string, log logger.Logger) *Reddit {
	return &Reddit{
		client:       &http.Client{Timeout: defaultTimeout},
		limiter:      newLimiter(),
		log:          log,
		clientID:     clientID,
		clientSecret: clientSecret,
		publicBase:   "https://www.reddit.com",
		oauthBase:    "https://oauth.reddit.com",
		tokenURL:     "https://www.reddit.com/api/v1/access_token",
	}
}

func (r *Reddit) Name() string { return SourceReddit }

func (r *Reddit) Method() string {
	if r.clientID != "" && r.clientSecret != "" {
		return "api"
	}
	return "http"
}

// Fetch reads r/<req.Query>, newest first, following the "after" cursor.
func (r *Reddit) Fetch(ctx context.Context, req Request) []post.Post {
	return run(ctx, r.log, SourceReddit, req, r.fetch)
}

func (r *Reddit) fetch(ctx context.Context, req Request, want int) ([]post.Post, error) {
	subreddit := strings.TrimPrefix(strings.TrimSpace(req.Query), "r/")
	if subreddit == "" {
		return nil, fmt.Errorf("reddit: empty subreddit")
	}

	base, headers := r.publicBase, map[string]string{}
	if r.Method() == "api" {
		token, err := r.authenticate(ctx)
		if err != nil {
			return nil, fmt.Errorf("reddit auth: %w", err)
		}
		base = r.oauthBase
		headers["Authorization"] = "Bearer " + token
	}

	var posts []post.Post
	after := ""
	for len(posts) < want {
		params := url.Values{}
		params.Set("limit", "100")
		params.Set("raw_json", "1")
		if after != "" {
			params.Set("after", after)
		}
		reqURL := fmt.Sprintf("%s/r/%s/new.json?%s", base, url.PathEscape(subreddit), params.Encode())

		var listing redditListing
		if err := getJSON(ctx, r.client, r.limiter, reqURL, headers, &listing); err != nil {
			return posts, fmt.Errorf("fetch r/%s: %w", subreddit, err)
		}

		for _, child := range listing.Data.Children {
			if child.Data.Stickied {
				continue
			}
			posts = append(posts, child.Data.toPost(subreddit))
		}

		after = listing.Data.After
		if after == "" || len(listing.Data.Children) == 0 {
			break
		}
	}
	return posts, nil
}

func (r *Reddit) authenticate(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(r.clientID, r.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit auth status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode reddit token: %w", err)
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return r.token, nil
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

func (p redditPost) toPost(subreddit string) post.Post {
	link := p.URL
	if link == "" || strings.HasPrefix(link, "/r/") {
		link = "https://www.reddit.com" + p.Permalink
	}
	comments := p.NumComments
	return post.Post{
		ID:          p.ID,
		Source:      SourceReddit,
		Title:       p.Title,
		Text:        p.Selftext,
		Score:       p.Score,
		CreatedUTC:  isoUTC(time.Unix(int64(p.CreatedUTC), 0)),
		Author:      p.Author,
		Subreddit:   subreddit,
		URL:         link,
		NumComments: &comments,
	}
}
