package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/cryptosent/internal/batch"
	"github.com/elonfeng/cryptosent/internal/config"
	"github.com/elonfeng/cryptosent/internal/importer"
	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/metrics"
	"github.com/elonfeng/cryptosent/internal/scheduler"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/post"
	"github.com/elonfeng/cryptosent/pkg/sentiment"
	"github.com/elonfeng/cryptosent/pkg/server"
	"github.com/elonfeng/cryptosent/pkg/source"
)

type scrapeOptions struct {
	sources   []string
	limit     int
	startDate string
	endDate   string
	json      bool
}

type analyzeOptions struct {
	model       string
	onlyMissing bool
	limit       int
	offset      int
	chunkSize   int
	dryRun      bool
	json        bool
}

type postsOptions struct {
	filter store.Filter
	json   bool
}

type importOptions = importer.Options

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	metrics  *metrics.Metrics
	selector *store.Selector
	store    *store.Store
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if forceLocal {
		cfg.Storage.ForceLocal = true
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	m := metrics.New()
	sel := store.NewSelector(cfg.StoreConfig(), log)
	journal := store.NewJournal(cfg.Storage.JournalPath, log)
	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		selector: sel,
		store:    store.New(sel, journal, m, log),
	}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

func (a *app) runner() *batch.Runner {
	scorers := sentiment.NewRegistry(sentiment.NewHuggingFaceFactory(a.cfg.HuggingFaceConfig()))
	return batch.New(a.store, scorers, a.metrics, a.log)
}

// buildJobs turns the enabled sources into scheduler jobs. only, when
// non-empty, restricts the result to those source names.
func buildJobs(cfg *config.Config, log logger.Logger, only []string, limit int, startDate, endDate string) []scheduler.Job {
	wanted := make(map[string]bool, len(only))
	for _, s := range only {
		wanted[strings.ToLower(strings.TrimSpace(s))] = true
	}
	keep := func(name string) bool { return len(wanted) == 0 || wanted[name] }
	pick := func(configured int) int {
		if limit > 0 {
			return limit
		}
		return configured
	}

	var jobs []scheduler.Job
	add := func(src source.Source, queries []string, configuredLimit int) {
		if !keep(src.Name()) || len(queries) == 0 {
			return
		}
		jobs = append(jobs, scheduler.Job{
			Source:    src,
			Queries:   queries,
			Limit:     pick(configuredLimit),
			StartDate: startDate,
			EndDate:   endDate,
		})
	}

	sc := cfg.Sources
	if sc.Reddit.Enabled {
		add(source.NewReddit(sc.Reddit.ClientID, sc.Reddit.ClientSecret, log), sc.Reddit.Subreddits, sc.Reddit.Limit)
	}
	if sc.StockTwits.Enabled {
		add(source.NewStockTwits(log), sc.StockTwits.Symbols, sc.StockTwits.Limit)
	}
	if sc.Bluesky.Enabled {
		add(source.NewBluesky(sc.Bluesky.BaseURL, log), sc.Bluesky.Queries, sc.Bluesky.Limit)
	}

	filter := source.NewFilter(cfg.Filter.ExtraKeywords, cfg.Filter.ExcludeKeywords)
	for _, fc := range sc.Feeds {
		if !fc.Enabled {
			continue
		}
		queries := fc.Queries
		if len(queries) == 0 {
			// A feed without {query} is fetched once.
			queries = []string{""}
		}
		add(source.NewFeed(fc.FeedOptions, filter, log), queries, fc.Limit)
	}
	return jobs
}

func runScrape(ctx context.Context, opts scrapeOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	jobs := buildJobs(a.cfg, a.log, opts.sources, opts.limit, opts.startDate, opts.endDate)
	if len(jobs) == 0 {
		return fmt.Errorf("no enabled sources match: %s", strings.Join(opts.sources, ", "))
	}

	sum := scheduler.New(a.store, jobs, nil, a.metrics, a.log, scheduler.Config{}).CollectOnce(ctx)

	if opts.json {
		return writeJSON(sum)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Source", "Method", "Query", "Fetched", "Inserted", "Error"})
	for _, r := range sum.Results {
		t.AppendRow(table.Row{r.Source, r.Method, r.Query, r.Fetched, r.Inserted, r.Error})
	}
	t.Render()
	fmt.Printf("\ntotal: %d fetched, %d inserted, %d failed\n", sum.Fetched, sum.Inserted, sum.Failed)
	return nil
}

func runAnalyze(ctx context.Context, opts analyzeOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	model := opts.model
	if model == "" {
		model = a.cfg.Batch.Model
	}
	chunkSize := opts.chunkSize
	if chunkSize <= 0 {
		chunkSize = a.cfg.Batch.ChunkSize
	}

	rep, err := a.runner().Run(ctx, batch.Options{
		Model:        model,
		OnlyUnscored: opts.onlyMissing,
		Limit:        opts.limit,
		Offset:       opts.offset,
		ChunkSize:    chunkSize,
		DryRun:       opts.dryRun,
		Progress: func(r batch.Report) {
			if !opts.json {
				fmt.Fprintf(os.Stderr, "chunk %d: processed %d, updated %d, failed %d (next offset %d)\n",
					r.Chunks, r.Processed, r.Updated, r.Failed, r.NextOffset)
			}
		},
	})
	if err != nil {
		if rep.Chunks > 0 {
			fmt.Fprintf(os.Stderr, "stopped after %d posts; resume with --offset %d\n", rep.Processed, rep.NextOffset)
		}
		return fmt.Errorf("analyze: %w", err)
	}

	if opts.json {
		return writeJSON(rep)
	}
	mode := ""
	if rep.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("run %s%s: %s processed %d, scored %d, updated %d, failed %d\n",
		rep.RunID, mode, rep.Model, rep.Processed, rep.Scored, rep.Updated, rep.Failed)
	return nil
}

func runPosts(ctx context.Context, opts postsOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	posts, err := a.store.GetAll(ctx, opts.filter)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	if opts.json {
		return writeJSON(posts)
	}
	if len(posts) == 0 {
		fmt.Println("no posts found (try collecting data first: cryptosent scrape)")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Source", "Method", "Created", "Score", "Sentiment", "Title"})
	for _, p := range posts {
		t.AppendRow(table.Row{p.Source, p.Method, p.CreatedUTC, p.Score, formatSentiment(p), headline(p, 70)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(posts)})
	t.Render()
	return nil
}

func runStats(ctx context.Context, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	if jsonOutput {
		return writeJSON(st)
	}

	fmt.Printf("backend: %s\ntotal:   %d\n", st.Backend, st.Total)
	if st.FirstScrape != nil && st.LastScrape != nil {
		fmt.Printf("scraped: %s .. %s\n", st.FirstScrape.Format(time.RFC3339), st.LastScrape.Format(time.RFC3339))
	}
	fmt.Println()

	t := newTable()
	t.AppendHeader(table.Row{"Source", "Method", "Posts"})
	for _, c := range st.BySourceMethod {
		t.AppendRow(table.Row{c.Source, c.Method, c.Count})
	}
	t.Render()
	return nil
}

func runImport(ctx context.Context, path string, opts importOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := importer.New(a.store, a.log).ImportFile(ctx, path, opts)
	if err != nil {
		return err
	}

	fmt.Printf("%s layout: %d rows, %d skipped, %d parsed, %d inserted in %d batches\n",
		rep.Layout, rep.Rows, rep.Skipped, rep.Parsed, rep.Inserted, rep.Batches)
	if rep.DryRun {
		fmt.Println("dry run, nothing saved. sample:")
		return writeJSON(rep.Sample)
	}
	return nil
}

func runDaemon(ctx context.Context, addr string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}

	jobs := buildJobs(a.cfg, a.log, nil, 0, "", "")
	sched := scheduler.New(a.store, jobs, a.runner(), a.metrics, a.log, scheduler.Config{
		CollectInterval:     a.cfg.Schedule.ParseCollectInterval(),
		CollectCron:         a.cfg.Schedule.CollectCron,
		AnalyzeAfterCollect: a.cfg.Schedule.AnalyzeAfterCollect,
		Analyze: batch.Options{
			Model:     a.cfg.Batch.Model,
			ChunkSize: a.cfg.Batch.ChunkSize,
		},
	})
	srv := server.New(addr, a.store, a.metrics.Handler(), a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}

func runBackend(ctx context.Context, probe bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("preferred: %s\n", a.selector.Preferred())
	if !probe {
		return nil
	}
	kind, err := a.store.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	fmt.Printf("resolved:  %s\n", kind)
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func formatSentiment(p post.Post) string {
	if p.SentimentScore == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f", *p.SentimentScore)
}

func headline(p post.Post, n int) string {
	s := p.Title
	if s == "" {
		s = p.Text
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
