package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// StockTwits reads a symbol stream. Messages tagged Bullish or Bearish by
// their author keep that tag as the human label.
type StockTwits struct {
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
	baseURL string
}

// NewStockTwits creates a StockTwits adapter.
func NewStockTwits(log logger.Logger) *StockTwits {
	return &StockTwits{
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: newLimiter(),
		log:     log,
		baseURL: "https://api.stocktwits.com/api/2",
	}
}

func (s *StockTwits) Name() string   { return SourceStockTwits }
func (s *StockTwits) Method() string { return "api" }

// Fetch reads the stream for symbol req.Query, e.g. "BTC.X".
func (s *StockTwits) Fetch(ctx context.Context, req Request) []post.Post {
	return run(ctx, s.log, SourceStockTwits, req, s.fetch)
}

func (s *StockTwits) fetch(ctx context.Context, req Request, want int) ([]post.Post, error) {
	symbol := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(req.Query), "$"))
	if symbol == "" {
		return nil, fmt.Errorf("stocktwits: empty symbol")
	}

	var posts []post.Post
	var maxID int64
	for len(posts) < want {
		reqURL := fmt.Sprintf("%s/streams/symbol/%s.json", s.baseURL, url.PathEscape(symbol))
		if maxID > 0 {
			reqURL += "?max=" + strconv.FormatInt(maxID, 10)
		}

		var stream stocktwitsStream
		if err := getJSON(ctx, s.client, s.limiter, reqURL, nil, &stream); err != nil {
			return posts, fmt.Errorf("fetch %s: %w", symbol, err)
		}
		for _, m := range stream.Messages {
			if strings.TrimSpace(m.Body) == "" {
				continue
			}
			posts = append(posts, m.toPost(symbol))
		}

		if !stream.Cursor.More || stream.Cursor.Max == 0 || len(stream.Messages) == 0 {
			break
		}
		maxID = stream.Cursor.Max
	}
	return posts, nil
}

type stocktwitsStream struct {
	Cursor struct {
		More bool  `json:"more"`
		Max  int64 `json:"max"`
	} `json:"cursor"`
	Messages []stocktwitsMessage `json:"messages"`
}

type stocktwitsMessage struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Username string `json:"username"`
	} `json:"user"`
	Entities struct {
		Sentiment *struct {
			Basic string `json:"basic"`
		} `json:"sentiment"`
	} `json:"entities"`
	Likes struct {
		Total int `json:"total"`
	} `json:"likes"`
	Conversation struct {
		Replies int `json:"replies"`
	} `json:"conversation"`
}

func (m stocktwitsMessage) toPost(symbol string) post.Post {
	label := ""
	if m.Entities.Sentiment != nil {
		label = m.Entities.Sentiment.Basic
	}
	replies := m.Conversation.Replies
	id := strconv.FormatInt(m.ID, 10)
	return post.Post{
		ID:          id,
		Source:      SourceStockTwits,
		Title:       truncate(m.Body, 300),
		Text:        m.Body,
		Score:       m.Likes.Total,
		CreatedUTC:  m.CreatedAt,
		HumanLabel:  label,
		Author:      m.User.Username,
		Subreddit:   symbol,
		URL:         fmt.Sprintf("https://stocktwits.com/%s/message/%s", m.User.Username, id),
		NumComments: &replies,
	}
}
