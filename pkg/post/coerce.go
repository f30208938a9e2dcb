package post

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// FromMap coerces a Post-like mapping (a CSV row, a decoded JSON object) into
// a Post. Missing or malformed values fall back to zero values so one bad row
// never aborts a batch import. UID and scraped_at are ignored; Normalize
// recomputes the former and the store stamps the latter.
func FromMap(m map[string]any) Post {
	return Post{
		ID:             toString(m["id"]),
		Source:         toString(m["source"]),
		Method:         toString(m["method"]),
		Title:          toString(m["title"]),
		Text:           toString(m["text"]),
		Score:          toInt(m["score"]),
		CreatedUTC:     toString(m["created_utc"]),
		HumanLabel:     toString(m["human_label"]),
		Author:         toString(m["author"]),
		Subreddit:      toString(m["subreddit"]),
		URL:            toString(m["url"]),
		NumComments:    toOptionalInt(m["num_comments"]),
		SentimentScore: toOptionalFloat(m["sentiment_score"]),
		IsInfluencer:   cast.ToBool(m["is_influencer"]),
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "nan", "none", "null", "<nil>":
		return ""
	}
	return s
}

func toInt(v any) int {
	n := toOptionalInt(v)
	if n == nil {
		return 0
	}
	return *n
}

// toOptionalInt accepts ints, floats and numeric strings such as "12" or "12.0".
func toOptionalInt(v any) *int {
	if toString(v) == "" {
		return nil
	}
	if n, err := cast.ToIntE(v); err == nil {
		return &n
	}
	f := toOptionalFloat(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func toOptionalFloat(v any) *float64 {
	if toString(v) == "" {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
