package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFaceFoldsProbabilities(t *testing.T) {
	var gotPath, gotAuth, gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Inputs string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotInput = body.Inputs
		_, _ = w.Write([]byte(`[[{"label":"positive","score":0.7},{"label":"negative","score":0.1},{"label":"neutral","score":0.2}]]`))
	}))
	defer srv.Close()

	h := NewHuggingFace(srv.URL, "tok", "ProsusAI/finbert", 0)
	res, err := h.Analyze(context.Background(), "btc to the moon")
	require.NoError(t, err)

	assert.Equal(t, "/models/ProsusAI/finbert", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "btc to the moon", gotInput)
	assert.Equal(t, Bullish, res.Label)
	assert.InDelta(t, 0.6, res.Score, 1e-9)
}

func TestHuggingFaceFlatCryptoBERTLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"label":"Bearish","score":0.8},{"label":"Bullish","score":0.05},{"label":"Neutral","score":0.15}]`))
	}))
	defer srv.Close()

	res, err := NewHuggingFace(srv.URL, "", "ElKulako/cryptobert", 0).Analyze(context.Background(), "dump incoming")
	require.NoError(t, err)
	assert.Equal(t, Bearish, res.Label)
	assert.InDelta(t, -0.75, res.Score, 1e-9)
	assert.GreaterOrEqual(t, res.Score, -1.0)
}

func TestHuggingFaceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model loading"}`))
	}))
	defer srv.Close()

	_, err := NewHuggingFace(srv.URL, "", "ProsusAI/finbert", 0).Analyze(context.Background(), "some text here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHuggingFaceErrorBodyKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("é", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewHuggingFace(srv.URL, "", "ProsusAI/finbert", 0).Analyze(context.Background(), "some text here")
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), strings.Repeat("é", 200)+"...")
	assert.NotContains(t, err.Error(), strings.Repeat("é", 201))
}

func TestHuggingFaceTruncatesLongInput(t *testing.T) {
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Inputs string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n = len([]rune(body.Inputs))
		_, _ = w.Write([]byte(`[[{"label":"neutral","score":1}]]`))
	}))
	defer srv.Close()

	res, err := NewHuggingFace(srv.URL, "", "m", 0).Analyze(context.Background(), strings.Repeat("a", 5000))
	require.NoError(t, err)
	assert.Equal(t, maxInputRunes, n)
	assert.Equal(t, Neutral, res.Label)
	assert.Zero(t, res.Score)
}

type constScorer struct{ score float64 }

func (c constScorer) Analyze(context.Context, string) (Result, error) {
	return Result{Label: Neutral, Score: c.score}, nil
}

func TestRegistryBuildsEachModelOnce(t *testing.T) {
	var builds int32
	reg := NewRegistry(func(model string) (Scorer, error) {
		atomic.AddInt32(&builds, 1)
		if model == "broken" {
			return nil, ErrUnknownModel
		}
		return constScorer{}, nil
	})

	for i := 0; i < 3; i++ {
		_, err := reg.Get("FinBERT")
		require.NoError(t, err)
	}
	_, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))

	_, err = reg.Get("broken")
	assert.True(t, errors.Is(err, ErrUnknownModel))
	assert.Equal(t, []string{"finbert"}, reg.Loaded())
}

func TestFactoryRejectsUnknownModel(t *testing.T) {
	f := NewHuggingFaceFactory(HuggingFaceConfig{})
	_, err := f("vader")
	assert.ErrorIs(t, err, ErrUnknownModel)

	s, err := f(ModelCryptoBERT)
	require.NoError(t, err)
	assert.Equal(t, "ElKulako/cryptobert", s.(*HuggingFace).repo)
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  BTC   up\n\ntoday ", "BTC up today"},
		{"links", "read https://example.com/x?y=1 now", "read now"},
		{"html", "<p>ETH <b>breaks</b> out</p>", "ETH breaks out"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
