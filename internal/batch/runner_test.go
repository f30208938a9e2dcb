package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/post"
	"github.com/elonfeng/cryptosent/pkg/sentiment"
)

type recordingScorer struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingScorer) Analyze(_ context.Context, text string) (sentiment.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if strings.Contains(text, "explode") {
		return sentiment.Result{}, errors.New("model crashed")
	}
	if strings.Contains(text, "moon") {
		return sentiment.Result{Label: sentiment.Bullish, Score: 0.8}, nil
	}
	return sentiment.Result{Label: sentiment.Neutral, Score: 0.1}, nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	sel := store.NewSelector(store.Config{ForceLocal: true, SQLitePath: filepath.Join(t.TempDir(), "posts.db")}, logger.NewNop())
	return store.New(sel, nil, nil, logger.NewNop())
}

func seed(t *testing.T, s *store.Store, n int) {
	t.Helper()
	posts := make([]post.Post, n)
	for i := range posts {
		posts[i] = post.Post{ID: fmt.Sprintf("%03d", i), Title: "Bitcoin", Text: fmt.Sprintf("post number %d to the moon", i)}
	}
	res, err := s.Save(context.Background(), posts, "reddit", "http")
	require.NoError(t, err)
	require.Equal(t, n, res.Inserted)
}

func newRunner(s *store.Store, scorer sentiment.Scorer) *Runner {
	reg := sentiment.NewRegistry(func(string) (sentiment.Scorer, error) { return scorer, nil })
	return New(s, reg, nil, logger.NewNop())
}

func TestRunnerResumesContiguously(t *testing.T) {
	ctx := context.Background()

	split := newStore(t)
	seed(t, split, 120)
	splitScorer := &recordingScorer{}
	r := newRunner(split, splitScorer)

	first, err := r.Run(ctx, Options{Limit: 50, ChunkSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 50, first.Processed)
	assert.Equal(t, 3, first.Chunks)
	assert.Equal(t, 50, first.NextOffset)

	second, err := r.Run(ctx, Options{Limit: 50, ChunkSize: 20, Offset: first.NextOffset})
	require.NoError(t, err)
	assert.Equal(t, 50, second.Processed)

	whole := newStore(t)
	seed(t, whole, 120)
	wholeScorer := &recordingScorer{}
	_, err = newRunner(whole, wholeScorer).Run(ctx, Options{Limit: 100, ChunkSize: 20})
	require.NoError(t, err)

	assert.Equal(t, wholeScorer.texts, splitScorer.texts)
	assert.Len(t, splitScorer.texts, 100)
}

func TestRunnerDryRunLeavesScoresUntouched(t *testing.T) {
	ctx := context.Background()

	dry := newStore(t)
	seed(t, dry, 25)
	dryRep, err := newRunner(dry, &recordingScorer{}).Run(ctx, Options{OnlyUnscored: true, ChunkSize: 10, DryRun: true})
	require.NoError(t, err)

	live := newStore(t)
	seed(t, live, 25)
	liveRep, err := newRunner(live, &recordingScorer{}).Run(ctx, Options{OnlyUnscored: true, ChunkSize: 10})
	require.NoError(t, err)

	assert.Equal(t, liveRep.Processed, dryRep.Processed)
	assert.Equal(t, liveRep.Updated, dryRep.Updated)
	assert.Equal(t, 25, dryRep.Updated)

	unscored, err := dry.GetAll(ctx, store.Filter{OnlyWithoutSentiment: true})
	require.NoError(t, err)
	assert.Len(t, unscored, 25)
}

func TestRunnerSecondPassFindsNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, 10)
	r := newRunner(s, &recordingScorer{})

	rep, err := r.Run(ctx, Options{OnlyUnscored: true, ChunkSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Processed)
	assert.Equal(t, 10, rep.Updated)

	again, err := r.Run(ctx, Options{OnlyUnscored: true, ChunkSize: 4})
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
	assert.Zero(t, again.Chunks)
}

func TestRunnerShortTextGetsZeroWithoutModel(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Save(ctx, []post.Post{{ID: "1", Text: "gm"}}, "stocktwits", "api")
	require.NoError(t, err)

	scorer := &recordingScorer{}
	rep, err := newRunner(s, scorer).Run(ctx, Options{OnlyUnscored: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Scored)
	assert.Empty(t, scorer.texts)

	got, err := s.GetAll(ctx, store.Filter{})
	require.NoError(t, err)
	require.NotNil(t, got[0].SentimentScore)
	assert.Equal(t, 0.0, *got[0].SentimentScore)
}

func TestRunnerSkipsScorerFailures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	posts := []post.Post{
		{ID: "a", Text: "this will explode the model"},
		{ID: "b", Text: "bitcoin to the moon"},
		{ID: "c", Text: "ethereum steady today"},
		{ID: "d", Text: "solana to the moon soon"},
		{ID: "e", Text: "nothing much happening"},
	}
	_, err := s.Save(ctx, posts, "reddit", "http")
	require.NoError(t, err)

	var progress []Report
	rep, err := newRunner(s, &recordingScorer{}).Run(ctx, Options{
		OnlyUnscored: true,
		ChunkSize:    2,
		Progress:     func(r Report) { progress = append(progress, r) },
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Processed)
	assert.Equal(t, 4, rep.Updated)
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, progress, rep.Chunks)
	assert.Equal(t, rep, progress[len(progress)-1])

	left, err := s.GetAll(ctx, store.Filter{OnlyWithoutSentiment: true})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].ID)
}

func TestRunnerUnknownModel(t *testing.T) {
	s := newStore(t)
	reg := sentiment.NewRegistry(sentiment.NewHuggingFaceFactory(sentiment.HuggingFaceConfig{}))
	_, err := New(s, reg, nil, logger.NewNop()).Run(context.Background(), Options{Model: "vader"})
	assert.ErrorIs(t, err, sentiment.ErrUnknownModel)
}

func TestRunnerRejectsNegativeOffset(t *testing.T) {
	s := newStore(t)
	seed(t, s, 3)
	scorer := &recordingScorer{}

	_, err := newRunner(s, scorer).Run(context.Background(), Options{Offset: -1})
	assert.ErrorContains(t, err, "must not be negative")
	assert.Empty(t, scorer.texts)
}
