package post

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIDDeterministic(t *testing.T) {
	a := UID("reddit", "http", "abc123", "", "")
	b := UID("reddit", "http", "abc123", "ignored title", "1700000000")

	assert.Equal(t, a, b, "title and created_utc must not matter when id is set")
	assert.Len(t, a, 40)
}

func TestUIDChangesWithEachKeyField(t *testing.T) {
	base := UID("reddit", "http", "1", "", "")

	assert.NotEqual(t, base, UID("twitter", "http", "1", "", ""))
	assert.NotEqual(t, base, UID("reddit", "api", "1", "", ""))
	assert.NotEqual(t, base, UID("reddit", "http", "2", "", ""))
}

func TestUIDFallbackWithoutID(t *testing.T) {
	a := UID("telegram", "simple", "", "BTC breaks 100k", "2024-01-02T10:00:00")
	b := UID("telegram", "simple", "  ", "BTC breaks 100k", "2024-01-02T10:00:00")
	c := UID("telegram", "simple", "", "BTC breaks 100k", "2024-01-02T10:00:01")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, UID("telegram", "simple", "", "ETH", "2024-01-02T10:00:00"))
}

func TestUIDKnownValue(t *testing.T) {
	// echo -n "reddit:http:1" | sha1sum
	assert.Equal(t, "813f6966d869aa4bcfc0def6847e2cc01ab7d8cb", UID("reddit", "http", "1", "", ""))
}

func TestNormalizeOverridesAndDefaults(t *testing.T) {
	p := Normalize(Post{ID: " 42 ", Source: "reddit", Method: "http"}, "stocktwits", "")
	assert.Equal(t, "stocktwits", p.Source)
	assert.Equal(t, "http", p.Method)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, UID("stocktwits", "http", "42", "", ""), p.UID)

	p = Normalize(Post{ID: "1"}, "", "")
	assert.Equal(t, "unknown", p.Source)
	assert.Equal(t, "unknown", p.Method)
}

func TestNormalizeTruncatesAndClamps(t *testing.T) {
	n := -3
	p := Normalize(Post{
		ID:          "1",
		Title:       strings.Repeat("é", MaxTitleLen+10),
		Text:        strings.Repeat("b", MaxTextLen+1),
		Score:       -5,
		NumComments: &n,
	}, "reddit", "http")

	assert.Equal(t, MaxTitleLen, len([]rune(p.Title)))
	assert.Len(t, p.Text, MaxTextLen)
	assert.Zero(t, p.Score)
	require.NotNil(t, p.NumComments)
	assert.Zero(t, *p.NumComments)
}

func TestNormalizeUIDUsesFieldsAsReceived(t *testing.T) {
	long := strings.Repeat("x", MaxTitleLen+5)
	p := Normalize(Post{Title: long, CreatedUTC: " 2024-01-02T00:00:00 "}, "twitter", "nitter")

	assert.Equal(t, UID("twitter", "nitter", "", long, " 2024-01-02T00:00:00 "), p.UID)
	assert.Equal(t, "2024-01-02T00:00:00", p.CreatedUTC)
	assert.Len(t, p.Title, MaxTitleLen)

	other := Normalize(Post{Title: long + "y", CreatedUTC: "2024-01-02T00:00:00"}, "twitter", "nitter")
	assert.NotEqual(t, p.UID, other.UID, "titles differing past the cut must not collide")
}

func TestNormalizeIsPure(t *testing.T) {
	in := Post{ID: "7", Source: "bluesky", Method: "api", Title: "t"}
	first := Normalize(in, "", "")
	second := Normalize(in, "", "")
	assert.Equal(t, first, second)
	assert.Empty(t, in.UID, "input must not be mutated")
}

func TestFromMapCoercion(t *testing.T) {
	p := FromMap(map[string]any{
		"id":              123.0,
		"source":          "bmc_influencers",
		"method":          "bmc_import",
		"text":            "  hodl  ",
		"score":           "12.0",
		"created_utc":     "2021-02-05T10:00:00",
		"human_label":     "NaN",
		"num_comments":    "",
		"sentiment_score": "0.25",
		"is_influencer":   "true",
		"uid":             "ignored",
	})

	assert.Equal(t, "123", p.ID)
	assert.Equal(t, "hodl", p.Text)
	assert.Equal(t, 12, p.Score)
	assert.Empty(t, p.HumanLabel)
	assert.Nil(t, p.NumComments)
	require.NotNil(t, p.SentimentScore)
	assert.InDelta(t, 0.25, *p.SentimentScore, 1e-9)
	assert.True(t, p.IsInfluencer)
	assert.Empty(t, p.UID)
}

func TestFromMapBadValuesFallBack(t *testing.T) {
	p := FromMap(map[string]any{
		"score":           "lots",
		"num_comments":    []string{"x"},
		"sentiment_score": "not-a-number",
	})
	assert.Zero(t, p.Score)
	assert.Nil(t, p.NumComments)
	assert.Nil(t, p.SentimentScore)
}
