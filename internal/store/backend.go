package store

import (
	"context"
	"time"

	"github.com/elonfeng/cryptosent/pkg/post"
)

// Kind names a storage backend.
type Kind string

const (
	KindRelational Kind = "relational"
	KindREST       Kind = "rest_facade"
	KindEmbedded   Kind = "embedded"
)

// Query is the backend-level selection. Date filtering is not part of it:
// created_utc formats vary per source, so the Store filters in-process.
type Query struct {
	Sources              []string
	Method               string
	OnlyWithoutSentiment bool
	Limit                int
	Offset               int
}

// SourceMethodCount is one row of the per-(source, method) breakdown.
type SourceMethodCount struct {
	Source string `json:"source" db:"source"`
	Method string `json:"method" db:"method"`
	Count  int    `json:"count" db:"n"`
}

// Stats summarizes the stored posts.
type Stats struct {
	Total          int                 `json:"total"`
	BySourceMethod []SourceMethodCount `json:"by_source_method"`
	FirstScrape    *time.Time          `json:"first_scrape,omitempty"`
	LastScrape     *time.Time          `json:"last_scrape,omitempty"`
	Backend        Kind                `json:"backend"`
}

// Backend is a handle to one storage tier, acquired for a single logical
// operation and closed at its end.
type Backend interface {
	Kind() Kind
	// Insert stores p unless a row with the same UID exists. It reports
	// whether a new row was written.
	Insert(ctx context.Context, p *post.Post) (bool, error)
	// Query returns posts ordered by scraped_at descending, uid ascending.
	Query(ctx context.Context, q Query) ([]post.Post, error)
	UpdateSentiment(ctx context.Context, uid string, score float64) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
