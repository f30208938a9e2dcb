// Package post defines the canonical scraped item and the pure functions
// that normalize it and derive its storage identity.
package post

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTextLen bounds the body kept for storage, in characters.
	MaxTextLen = 50000
	// MaxTitleLen bounds the title kept for storage, in characters.
	MaxTitleLen = 1000

	unknown = "unknown"
)

// Post is one scraped item in canonical form. Field names follow the
// persisted schema so the same struct travels through SQL, REST and the journal.
type Post struct {
	UID            string    `json:"uid" db:"uid"`
	ID             string    `json:"id" db:"id"`
	Source         string    `json:"source" db:"source"`
	Method         string    `json:"method" db:"method"`
	Title          string    `json:"title" db:"title"`
	Text           string    `json:"text" db:"text"`
	Score          int       `json:"score" db:"score"`
	CreatedUTC     string    `json:"created_utc" db:"created_utc"`
	HumanLabel     string    `json:"human_label" db:"human_label"`
	Author         string    `json:"author" db:"author"`
	Subreddit      string    `json:"subreddit" db:"subreddit"`
	URL            string    `json:"url" db:"url"`
	NumComments    *int      `json:"num_comments" db:"num_comments"`
	ScrapedAt      time.Time `json:"scraped_at" db:"scraped_at"`
	SentimentScore *float64  `json:"sentiment_score" db:"sentiment_score"`
	IsInfluencer   bool      `json:"is_influencer" db:"is_influencer"`
}

// Normalize returns a copy of p ready for persistence: overrides applied,
// strings trimmed, oversized fields truncated and UID computed. It never fails.
// The UID hashes the title and created_utc as received, so rows stored before
// truncation or trimming keep the same key.
func Normalize(p Post, sourceOverride, methodOverride string) Post {
	rawTitle, rawCreated := p.Title, p.CreatedUTC
	p.Source = firstNonEmpty(sourceOverride, p.Source, unknown)
	p.Method = firstNonEmpty(methodOverride, p.Method, unknown)
	p.ID = strings.TrimSpace(p.ID)
	p.Title = truncateRunes(p.Title, MaxTitleLen)
	p.Text = truncateRunes(p.Text, MaxTextLen)
	p.CreatedUTC = strings.TrimSpace(p.CreatedUTC)
	p.HumanLabel = strings.TrimSpace(p.HumanLabel)
	p.Author = strings.TrimSpace(p.Author)
	p.Subreddit = strings.TrimSpace(p.Subreddit)
	p.URL = strings.TrimSpace(p.URL)
	if p.Score < 0 {
		p.Score = 0
	}
	if p.NumComments != nil && *p.NumComments < 0 {
		zero := 0
		p.NumComments = &zero
	}
	p.UID = UID(p.Source, p.Method, p.ID, rawTitle, rawCreated)
	return p
}

// UID derives the dedup key. With a native id the key is source:method:id,
// otherwise source:method:title:created_utc. The result is a 40-char sha1 hex.
func UID(source, method, id, title, createdUTC string) string {
	var base string
	if id = strings.TrimSpace(id); id != "" {
		base = source + ":" + method + ":" + id
	} else {
		base = source + ":" + method + ":" + title + ":" + createdUTC
	}
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
