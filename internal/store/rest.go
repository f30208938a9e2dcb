package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/cryptosent/pkg/post"
)

const defaultRESTTable = "posts"

// RESTBackend talks to a PostgREST-compatible HTTP facade. It holds no
// connection, only the endpoint description.
type RESTBackend struct {
	client  *http.Client
	baseURL string
	apiKey  string
	table   string
}

// NewREST creates a REST facade backend.
func NewREST(cfg RESTConfig, client *http.Client) *RESTBackend {
	table := cfg.Table
	if table == "" {
		table = defaultRESTTable
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTBackend{
		client:  client,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		table:   table,
	}
}

func (r *RESTBackend) Kind() Kind { return KindREST }

func (r *RESTBackend) Close() error { return nil }

func (r *RESTBackend) endpoint(params url.Values) string {
	u := r.baseURL + "/rest/v1/" + r.table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (r *RESTBackend) do(ctx context.Context, method, endpoint string, body any, headers map[string]string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return r.client.Do(req)
}

type restPost struct {
	UID            string   `json:"uid"`
	ID             string   `json:"id"`
	Source         string   `json:"source"`
	Method         string   `json:"method"`
	Title          string   `json:"title"`
	Text           string   `json:"text"`
	Score          int      `json:"score"`
	CreatedUTC     string   `json:"created_utc"`
	HumanLabel     string   `json:"human_label"`
	Author         string   `json:"author"`
	Subreddit      string   `json:"subreddit"`
	URL            string   `json:"url"`
	NumComments    *int     `json:"num_comments"`
	ScrapedAt      string   `json:"scraped_at"`
	SentimentScore *float64 `json:"sentiment_score"`
	IsInfluencer   bool     `json:"is_influencer"`
}

func toRESTPost(p *post.Post) restPost {
	return restPost{
		UID:            p.UID,
		ID:             p.ID,
		Source:         p.Source,
		Method:         p.Method,
		Title:          p.Title,
		Text:           p.Text,
		Score:          p.Score,
		CreatedUTC:     p.CreatedUTC,
		HumanLabel:     p.HumanLabel,
		Author:         p.Author,
		Subreddit:      p.Subreddit,
		URL:            p.URL,
		NumComments:    p.NumComments,
		ScrapedAt:      p.ScrapedAt.UTC().Format("2006-01-02T15:04:05.999999Z07:00"),
		SentimentScore: p.SentimentScore,
		IsInfluencer:   p.IsInfluencer,
	}
}

func (r restPost) toPost() post.Post {
	p := post.Post{
		UID:            r.UID,
		ID:             r.ID,
		Source:         r.Source,
		Method:         r.Method,
		Title:          r.Title,
		Text:           r.Text,
		Score:          r.Score,
		CreatedUTC:     r.CreatedUTC,
		HumanLabel:     r.HumanLabel,
		Author:         r.Author,
		Subreddit:      r.Subreddit,
		URL:            r.URL,
		NumComments:    r.NumComments,
		SentimentScore: r.SentimentScore,
		IsInfluencer:   r.IsInfluencer,
	}
	if ts, ok := parseTimestamp(r.ScrapedAt); ok {
		p.ScrapedAt = ts
	}
	return p
}

func (r *RESTBackend) Insert(ctx context.Context, p *post.Post) (bool, error) {
	body := toRESTPost(p)
	resp, err := r.do(ctx, http.MethodPost, r.endpoint(nil), body, map[string]string{"Prefer": "return=minimal"})
	if err != nil {
		return false, fmt.Errorf("insert post %s: %w", p.UID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("insert into %s: %w", r.table, ErrTableMissing)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("insert post %s: status %d: %s", p.UID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return true, nil
}

func (r *RESTBackend) Query(ctx context.Context, q Query) ([]post.Post, error) {
	params := url.Values{}
	params.Set("select", "*")
	if len(q.Sources) > 0 {
		quoted := make([]string, len(q.Sources))
		for i, s := range q.Sources {
			quoted[i] = strconv.Quote(s)
		}
		params.Set("source", "in.("+strings.Join(quoted, ",")+")")
	}
	if q.Method != "" {
		params.Set("method", "eq."+q.Method)
	}
	if q.OnlyWithoutSentiment {
		params.Set("sentiment_score", "is.null")
	}
	params.Set("order", "scraped_at.desc,uid.asc")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var rows []restPost
	if err := r.getJSON(ctx, params, &rows); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]post.Post, len(rows))
	for i, row := range rows {
		posts[i] = row.toPost()
	}
	return posts, nil
}

func (r *RESTBackend) UpdateSentiment(ctx context.Context, uid string, score float64) error {
	params := url.Values{}
	params.Set("uid", "eq."+uid)
	resp, err := r.do(ctx, http.MethodPatch, r.endpoint(params),
		map[string]float64{"sentiment_score": score}, map[string]string{"Prefer": "return=minimal"})
	if err != nil {
		return fmt.Errorf("update sentiment %s: %w", uid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("update sentiment %s: status %d", uid, resp.StatusCode)
	}
	return nil
}

// Stats pages through source/method pairs because PostgREST exposes no
// GROUP BY without a server-side view.
func (r *RESTBackend) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: KindREST}

	counts := make(map[[2]string]int)
	const page = 1000
	for offset := 0; ; offset += page {
		params := url.Values{}
		params.Set("select", "source,method")
		params.Set("order", "uid.asc")
		params.Set("limit", strconv.Itoa(page))
		params.Set("offset", strconv.Itoa(offset))

		var rows []struct {
			Source string `json:"source"`
			Method string `json:"method"`
		}
		if err := r.getJSON(ctx, params, &rows); err != nil {
			return Stats{}, fmt.Errorf("count posts: %w", err)
		}
		for _, row := range rows {
			counts[[2]string{row.Source, row.Method}]++
			st.Total++
		}
		if len(rows) < page {
			break
		}
	}

	for k, n := range counts {
		st.BySourceMethod = append(st.BySourceMethod, SourceMethodCount{Source: k[0], Method: k[1], Count: n})
	}
	sort.Slice(st.BySourceMethod, func(i, j int) bool {
		a, b := st.BySourceMethod[i], st.BySourceMethod[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Method < b.Method
	})

	first, err := r.edgeScrape(ctx, "scraped_at.asc")
	if err != nil {
		return Stats{}, err
	}
	last, err := r.edgeScrape(ctx, "scraped_at.desc")
	if err != nil {
		return Stats{}, err
	}
	st.FirstScrape, st.LastScrape = first, last
	return st, nil
}

func (r *RESTBackend) edgeScrape(ctx context.Context, order string) (*time.Time, error) {
	params := url.Values{}
	params.Set("select", "scraped_at")
	params.Set("order", order)
	params.Set("limit", "1")

	var rows []struct {
		ScrapedAt string `json:"scraped_at"`
	}
	if err := r.getJSON(ctx, params, &rows); err != nil {
		return nil, fmt.Errorf("scrape range: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ts, ok := parseTimestamp(rows[0].ScrapedAt)
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (r *RESTBackend) getJSON(ctx context.Context, params url.Values, out any) error {
	resp, err := r.do(ctx, http.MethodGet, r.endpoint(params), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTableMissing
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
