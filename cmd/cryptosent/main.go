package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	forceLocal bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cryptosent",
		Short:         "Collect crypto social posts and score their sentiment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&forceLocal, "force-local", false, "always use the embedded SQLite database")

	root.AddCommand(scrapeCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(postsCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(importCmd())
	root.AddCommand(runCmd())
	root.AddCommand(backendCmd())

	return root
}

func scrapeCmd() *cobra.Command {
	var opts scrapeOptions

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch posts from every enabled source once and save them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "only these sources (reddit,stocktwits,bluesky,telegram,twitter,rss)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "posts per query (default: from config)")
	cmd.Flags().StringVar(&opts.startDate, "start-date", "", "keep posts published on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.endDate, "end-date", "", "keep posts published on or before YYYY-MM-DD")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output as JSON")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score stored posts with a sentiment model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "model key: finbert or cryptobert (default: from config)")
	cmd.Flags().BoolVar(&opts.onlyMissing, "only-missing", true, "only posts without a sentiment score")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "max posts to process (0 = all)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "resume from this offset")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "posts per chunk (default: from config)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "score without writing")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output the final report as JSON")
	return cmd
}

func postsCmd() *cobra.Command {
	var opts postsOptions

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List stored posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosts(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.filter.Sources, "source", nil, "only these sources")
	cmd.Flags().StringVar(&opts.filter.Method, "method", "", "only this method")
	cmd.Flags().StringVar(&opts.filter.DateFrom, "date-from", "", "published on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.filter.DateTo, "date-to", "", "published on or before YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.filter.Limit, "limit", 20, "max posts")
	cmd.Flags().IntVar(&opts.filter.Offset, "offset", 0, "skip this many posts")
	cmd.Flags().BoolVar(&opts.filter.OnlyWithoutSentiment, "only-missing", false, "only posts without a sentiment score")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output as JSON")
	return cmd
}

func statsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show post counts per source and method",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func importCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV dataset into storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "override the post source")
	cmd.Flags().StringVar(&opts.Method, "method", "", "override the post method")
	cmd.Flags().BoolVar(&opts.Influencer, "influencer", false, "mark imported posts as influencer posts")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "parse and show a sample without saving")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 500, "posts per save")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max rows to read (0 = all)")
	return cmd
}

func runCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon: periodic collection, scoring and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "metrics listen address (default: from config)")
	return cmd
}

func backendCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Show which storage backend is configured and which one resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackend(cmd.Context(), probe)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", true, "connect to find the tier that actually resolves")
	return cmd
}
