// Package store persists posts behind one interface over three tiers: a
// relational database, a REST facade and an embedded SQLite file.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/metrics"
	"github.com/elonfeng/cryptosent/pkg/post"
)

const (
	defaultFetchBase = 5000
	overFetchFactor  = 3
	maxOverFetch     = 15000
)

// Filter selects posts for GetAll. DateFrom and DateTo are inclusive
// YYYY-MM-DD bounds on the publication date in created_utc.
type Filter struct {
	Sources              []string
	Method               string
	DateFrom             string
	DateTo               string
	Limit                int
	Offset               int
	OnlyWithoutSentiment bool
}

// SaveResult reports the outcome of Save.
type SaveResult struct {
	Inserted int  `json:"inserted"`
	Total    int  `json:"total"`
	Backend  Kind `json:"backend"`
}

// ScoreUpdate sets the sentiment score of one post.
type ScoreUpdate struct {
	UID   string
	Score float64
}

// Store is the persistence facade. Each call resolves its own backend and
// closes it before returning.
type Store struct {
	selector *Selector
	journal  *Journal
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time
}

// New creates a Store. m may be nil.
func New(selector *Selector, journal *Journal, m *metrics.Metrics, log logger.Logger) *Store {
	return &Store{
		selector: selector,
		journal:  journal,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Probe resolves a backend and closes it, reporting which tier answered.
func (s *Store) Probe(ctx context.Context) (Kind, error) {
	b, err := s.selector.Resolve(ctx)
	if err != nil {
		return "", err
	}
	defer b.Close()
	return b.Kind(), nil
}

// Save normalizes and inserts posts, skipping those already stored.
// Overrides replace each post's source and method when non-empty.
func (s *Store) Save(ctx context.Context, posts []post.Post, sourceOverride, methodOverride string) (SaveResult, error) {
	res := SaveResult{Total: len(posts), Backend: s.selector.Preferred()}
	if len(posts) == 0 {
		return res, nil
	}

	b, err := s.selector.Resolve(ctx)
	if err != nil {
		return res, err
	}
	defer b.Close()
	res.Backend = b.Kind()

	scrapedAt := s.now().UTC().Truncate(time.Microsecond)
	for i := range posts {
		p := post.Normalize(posts[i], sourceOverride, methodOverride)
		if p.ScrapedAt.IsZero() {
			p.ScrapedAt = scrapedAt
		}

		inserted, err := b.Insert(ctx, &p)
		if err != nil {
			if errors.Is(err, ErrTableMissing) {
				s.metrics.RecordSave(string(res.Backend), i+1, res.Inserted)
				return res, err
			}
			s.log.Warn("insert failed, skipping post",
				logger.String("uid", p.UID),
				logger.String("backend", string(res.Backend)),
				logger.Error(err))
			continue
		}
		if inserted {
			res.Inserted++
			s.journal.Append(p)
		}
	}

	s.metrics.RecordSave(string(res.Backend), res.Total, res.Inserted)
	s.log.Debug("saved posts",
		logger.Int("inserted", res.Inserted),
		logger.Int("total", res.Total),
		logger.String("backend", string(res.Backend)))
	return res, nil
}

// GetAll returns posts newest-scraped first. With a date bound set, rows
// whose created_utc cannot be parsed are dropped; without one they are kept.
func (s *Store) GetAll(ctx context.Context, f Filter) ([]post.Post, error) {
	if f.Offset < 0 || f.Limit < 0 {
		return nil, fmt.Errorf("list posts: offset %d and limit %d must not be negative", f.Offset, f.Limit)
	}
	dates, err := post.NewDateRange(f.DateFrom, f.DateTo)
	if err != nil {
		return nil, err
	}

	q := Query{
		Sources:              cleanSources(f.Sources),
		Method:               strings.TrimSpace(f.Method),
		OnlyWithoutSentiment: f.OnlyWithoutSentiment,
		Limit:                f.Limit,
		Offset:               f.Offset,
	}
	if dates.Active() {
		q.Limit = overFetchLimit(f.Limit, f.Offset)
		q.Offset = 0
	}

	b, err := s.selector.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	posts, err := b.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if !dates.Active() {
		return posts, nil
	}
	return window(dates.Filter(posts), f.Offset, f.Limit), nil
}

// UpdateSentimentScores writes each score by uid. A failed row is logged and
// the rest continue; the return value counts successful writes.
func (s *Store) UpdateSentimentScores(ctx context.Context, updates []ScoreUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	b, err := s.selector.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	defer b.Close()

	updated := 0
	for _, u := range updates {
		if err := b.UpdateSentiment(ctx, u.UID, u.Score); err != nil {
			s.log.Warn("sentiment update failed", logger.String("uid", u.UID), logger.Error(err))
			continue
		}
		updated++
	}
	s.metrics.RecordUpdates(updated)
	return updated, nil
}

// GetStats summarizes stored posts.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	b, err := s.selector.Resolve(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer b.Close()

	st, err := b.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	st.Backend = b.Kind()
	return st, nil
}

func overFetchLimit(limit, offset int) int {
	base := limit + offset
	if limit <= 0 {
		base = defaultFetchBase
	}
	n := base * overFetchFactor
	if n > maxOverFetch {
		n = maxOverFetch
	}
	return n
}

func window(posts []post.Post, offset, limit int) []post.Post {
	if offset >= len(posts) {
		return []post.Post{}
	}
	posts = posts[offset:]
	if limit > 0 && limit < len(posts) {
		posts = posts[:limit]
	}
	return posts
}

func cleanSources(sources []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
