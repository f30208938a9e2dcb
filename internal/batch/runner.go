// Package batch scores stored posts in resumable, offset-driven chunks.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/metrics"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/post"
	"github.com/elonfeng/cryptosent/pkg/sentiment"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 500

// PostStore is the part of the persistence layer the runner needs.
type PostStore interface {
	GetAll(ctx context.Context, f store.Filter) ([]post.Post, error)
	UpdateSentimentScores(ctx context.Context, updates []store.ScoreUpdate) (int, error)
}

// Scorers resolves a model key to a loaded scorer.
type Scorers interface {
	Get(model string) (sentiment.Scorer, error)
}

// Options controls one run.
type Options struct {
	Model        string
	OnlyUnscored bool
	// Limit caps the posts processed; 0 means no cap.
	Limit int
	// Offset resumes a previous run; pass the NextOffset it reported.
	Offset    int
	ChunkSize int
	DryRun    bool
	// Progress, when set, receives the cumulative report after each chunk.
	Progress func(Report)
}

// Report is the cumulative outcome of a run.
type Report struct {
	RunID     string `json:"run_id"`
	Model     string `json:"model"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Scored    int    `json:"scored"`
	Failed    int    `json:"failed"`
	Chunks    int    `json:"chunks"`
	// NextOffset is where a follow-up run should start.
	NextOffset int  `json:"next_offset"`
	DryRun     bool `json:"dry_run"`
}

// Runner drives FETCH, SCORE, WRITE and ADVANCE over the store.
type Runner struct {
	store   PostStore
	scorers Scorers
	metrics *metrics.Metrics
	log     logger.Logger
}

// New creates a Runner. m may be nil.
func New(s PostStore, scorers Scorers, m *metrics.Metrics, log logger.Logger) *Runner {
	return &Runner{store: s, scorers: scorers, metrics: m, log: log}
}

// Run processes posts until the store is exhausted or the limit is reached.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Offset < 0 || opts.Limit < 0 {
		return Report{}, fmt.Errorf("batch: offset %d and limit %d must not be negative", opts.Offset, opts.Limit)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	model := opts.Model
	if model == "" {
		model = sentiment.ModelFinBERT
	}

	rep := Report{
		RunID:      uuid.NewString(),
		Model:      model,
		NextOffset: opts.Offset,
		DryRun:     opts.DryRun,
	}
	log := r.log.With(logger.String("run_id", rep.RunID), logger.String("model", model))

	scorer, err := r.scorers.Get(model)
	if err != nil {
		return rep, err
	}

	start := time.Now()
	offset := opts.Offset
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		want := chunkSize
		if opts.Limit > 0 {
			remaining := opts.Limit - rep.Processed
			if remaining <= 0 {
				break
			}
			if remaining < want {
				want = remaining
			}
		}

		posts, err := r.store.GetAll(ctx, store.Filter{
			Limit:                want,
			Offset:               offset,
			OnlyWithoutSentiment: opts.OnlyUnscored,
		})
		if err != nil {
			return rep, fmt.Errorf("fetch chunk at offset %d: %w", offset, err)
		}
		if len(posts) == 0 {
			break
		}

		updates, scored, failed := r.scoreChunk(ctx, log, scorer, posts)
		rep.Chunks++
		rep.Processed += len(posts)
		rep.Scored += scored
		rep.Failed += failed
		r.metrics.RecordScored(model, scored)

		written := len(updates)
		if !opts.DryRun {
			written, err = r.store.UpdateSentimentScores(ctx, updates)
			if err != nil {
				return rep, fmt.Errorf("write chunk at offset %d: %w", offset, err)
			}
		}
		rep.Updated += written

		// Written rows leave the unscored set, so the next page starts
		// earlier by that many rows.
		if opts.OnlyUnscored && !opts.DryRun {
			offset += len(posts) - written
		} else {
			offset += len(posts)
		}
		rep.NextOffset = offset

		log.Info("chunk done",
			logger.Int("chunk", rep.Chunks),
			logger.Int("processed", rep.Processed),
			logger.Int("updated", rep.Updated),
			logger.Int("next_offset", rep.NextOffset),
			logger.Bool("dry_run", opts.DryRun))
		if opts.Progress != nil {
			opts.Progress(rep)
		}

		if len(posts) < want {
			break
		}
	}

	log.Info("run finished",
		logger.Int("processed", rep.Processed),
		logger.Int("updated", rep.Updated),
		logger.Int("failed", rep.Failed),
		logger.Duration("elapsed", time.Since(start)))
	return rep, nil
}

func (r *Runner) scoreChunk(ctx context.Context, log logger.Logger, scorer sentiment.Scorer, posts []post.Post) ([]store.ScoreUpdate, int, int) {
	updates := make([]store.ScoreUpdate, 0, len(posts))
	var scored, failed int
	for _, p := range posts {
		text := sentiment.CleanText(p.Title + " " + p.Text)
		score := 0.0
		if len([]rune(text)) >= sentiment.MinTextLen {
			res, err := scorer.Analyze(ctx, text)
			if err != nil {
				log.Warn("scoring failed, leaving post unscored", logger.String("uid", p.UID), logger.Error(err))
				failed++
				continue
			}
			score = res.Score
			scored++
		}
		updates = append(updates, store.ScoreUpdate{UID: p.UID, Score: score})
	}
	return updates, scored, failed
}
