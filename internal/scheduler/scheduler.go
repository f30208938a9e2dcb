// Package scheduler drives collection: one pass over every configured
// source and query, optionally followed by a batch scoring run, repeated on
// an interval by the daemon.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elonfeng/cryptosent/internal/batch"
	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/metrics"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/post"
	"github.com/elonfeng/cryptosent/pkg/source"
)

const defaultCollectInterval = 30 * time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Saver persists fetched posts under a source and method.
type Saver interface {
	Save(ctx context.Context, posts []post.Post, sourceOverride, methodOverride string) (store.SaveResult, error)
}

// Analyzer scores stored posts after a collection pass.
type Analyzer interface {
	Run(ctx context.Context, opts batch.Options) (batch.Report, error)
}

// Job is one source with the queries to run against it: subreddits,
// symbols, search terms or feed handles depending on the source.
type Job struct {
	Source    source.Source
	Queries   []string
	Limit     int
	StartDate string
	EndDate   string
}

// Config controls the daemon loop.
type Config struct {
	CollectInterval time.Duration
	// CollectCron, when set, replaces the interval with a cron expression
	// such as "*/15 * * * *" or "@hourly".
	CollectCron         string
	AnalyzeAfterCollect bool
	// Analyze is passed to the analyzer; OnlyUnscored is always forced on.
	Analyze batch.Options
}

// Result is the outcome of one source/query pair.
type Result struct {
	Source   string `json:"source"`
	Method   string `json:"method"`
	Query    string `json:"query"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

// Summary totals one collection pass.
type Summary struct {
	Fetched  int      `json:"fetched"`
	Inserted int      `json:"inserted"`
	Failed   int      `json:"failed"`
	Results  []Result `json:"results"`
}

// Scheduler runs periodic collection.
type Scheduler struct {
	saver    Saver
	jobs     []Job
	analyzer Analyzer
	metrics  *metrics.Metrics
	log      logger.Logger
	cfg      Config
}

// New creates a scheduler. analyzer and m may be nil.
func New(s Saver, jobs []Job, analyzer Analyzer, m *metrics.Metrics, log logger.Logger, cfg Config) *Scheduler {
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = defaultCollectInterval
	}
	return &Scheduler{
		saver:    s,
		jobs:     jobs,
		analyzer: analyzer,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// Run collects immediately and then on every tick, or on every cron firing
// when CollectCron is set. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.CollectCron != "" {
		return s.runCron(ctx)
	}

	ticker := time.NewTicker(s.cfg.CollectInterval)
	defer ticker.Stop()

	s.log.Info("scheduler running", logger.Duration("collect_interval", s.cfg.CollectInterval), logger.Int("jobs", len(s.jobs)))
	s.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.CollectCron, func() { s.cycle(ctx) }); err != nil {
		return fmt.Errorf("parse collect cron %q: %w", s.cfg.CollectCron, err)
	}

	s.log.Info("scheduler running", logger.String("collect_cron", s.cfg.CollectCron), logger.Int("jobs", len(s.jobs)))
	s.cycle(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) cycle(ctx context.Context) {
	s.CollectOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	if !s.cfg.AnalyzeAfterCollect || s.analyzer == nil {
		return
	}

	opts := s.cfg.Analyze
	opts.OnlyUnscored = true
	opts.Offset = 0
	rep, err := s.analyzer.Run(ctx, opts)
	if err != nil {
		s.log.Error("analyze after collect failed", logger.Error(err))
		return
	}
	s.log.Info("analyze after collect",
		logger.String("run_id", rep.RunID),
		logger.Int("processed", rep.Processed),
		logger.Int("updated", rep.Updated),
		logger.Int("failed", rep.Failed))
}

// CollectOnce runs every job once. Empty results and failures are logged
// and skipped; they never stop the pass.
func (s *Scheduler) CollectOnce(ctx context.Context) Summary {
	var sum Summary
	for _, job := range s.jobs {
		for _, q := range job.Queries {
			if ctx.Err() != nil {
				return sum
			}
			res := s.collect(ctx, job, q)
			sum.Results = append(sum.Results, res)
			sum.Fetched += res.Fetched
			sum.Inserted += res.Inserted
			if res.Error != "" {
				sum.Failed++
			}
		}
	}
	s.log.Info("collection finished",
		logger.Int("fetched", sum.Fetched),
		logger.Int("inserted", sum.Inserted),
		logger.Int("failed", sum.Failed))
	return sum
}

func (s *Scheduler) collect(ctx context.Context, job Job, query string) Result {
	src := job.Source
	res := Result{Source: src.Name(), Method: src.Method(), Query: query}
	log := s.log.With(logger.String("source", res.Source), logger.String("query", query))

	posts := src.Fetch(ctx, source.Request{
		Query:     query,
		Limit:     job.Limit,
		StartDate: job.StartDate,
		EndDate:   job.EndDate,
	})
	s.metrics.RecordFetch(res.Source, len(posts))
	res.Fetched = len(posts)
	if len(posts) == 0 {
		log.Info("no posts fetched")
		return res
	}

	saved, err := s.saver.Save(ctx, posts, res.Source, res.Method)
	if err != nil {
		log.Error("save failed", logger.Error(err))
		res.Error = err.Error()
		return res
	}
	res.Inserted = saved.Inserted
	log.Info("collected",
		logger.Int("fetched", res.Fetched),
		logger.Int("inserted", saved.Inserted),
		logger.String("backend", string(saved.Backend)))
	return res
}
