package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/id/uuid"
	"github.com/JakeFAU/dircrawl/internal/metrics"
	"github.com/JakeFAU/dircrawl/internal/schema"
	"github.com/JakeFAU/dircrawl/internal/worker"
)

type crawlFlags struct {
	schemaPath string
	hintsPath  string
	out        string
	maxPages   int
	maxRuntime time.Duration
	augment    bool
	force      bool
	runID      string
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <start-url>",
		Short: "Crawl a directory and write the extracted records",
		Long: `Crawls from start-url, following pagination and profile links within the
page and time budgets, and writes deduplicated records as JSONL or CSV.
Re-running with --run-id skips pages already fetched by that run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.schemaPath, "schema", "", "record schema file (JSON or YAML)")
	f.StringVar(&flags.hintsPath, "hints", "", "site hints file (YAML)")
	f.StringVar(&flags.out, "out", "", "output object path (default <run-id>.<format>)")
	f.IntVar(&flags.maxPages, "max-pages", 0, "page budget, overrides crawler.max_pages")
	f.DurationVar(&flags.maxRuntime, "max-runtime", 0, "time budget, overrides crawler.max_runtime_seconds")
	f.BoolVar(&flags.augment, "augment", false, "fill missing fields with the LLM augmenter")
	f.BoolVar(&flags.force, "force", false, "refetch pages already completed by this run")
	f.StringVar(&flags.runID, "run-id", "", "resume or name the run")
	return cmd
}

func runCrawl(cmd *cobra.Command, startURL string, flags crawlFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := e.cfg
	logger := e.logger
	if err := crawler.ValidateStartURL(startURL); err != nil {
		return err
	}

	if cmd.Flags().Changed("max-pages") {
		cfg.Crawler.MaxPages = flags.maxPages
	}
	if cmd.Flags().Changed("max-runtime") {
		secs, err := runtimeSeconds(flags.maxRuntime)
		if err != nil {
			return err
		}
		cfg.Crawler.MaxRuntimeSeconds = secs
	}
	if flags.augment {
		cfg.Augment.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	recordSchema := crawler.DefaultSchema()
	if flags.schemaPath != "" {
		if recordSchema, err = schema.LoadSchema(flags.schemaPath); err != nil {
			return err
		}
	}
	hints, err := schema.LoadHints(flags.hintsPath, crawler.Domain(startURL))
	if err != nil {
		return err
	}
	if hints != nil {
		logger.Info("site hints loaded", zap.String("domain", crawler.Domain(startURL)))
	}

	runID := flags.runID
	if runID == "" {
		if runID, err = uuid.NewUUIDGenerator().NewID(); err != nil {
			return err
		}
	}
	outPath := flags.out
	if outPath == "" {
		outPath = runID + "." + cfg.Output.Format
	}

	var cl closers
	defer cl.close()

	if cfg.Metrics.Addr != "" {
		metrics.Init()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger.Named("metrics")); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	fetch, err := buildFetcher(cfg, logger, &cl)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	store, err := buildRunStore(ctx, cfg.Store, &cl)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	writer, err := buildWriter(ctx, cfg.Output, recordSchema, &cl)
	if err != nil {
		return fmt.Errorf("init output: %w", err)
	}

	w, err := worker.New(worker.Deps{
		Fetcher:   fetch,
		RunStore:  store,
		Robots:    buildRobots(cfg.Crawler, logger),
		Augmenter: buildAugmenter(cfg.Augment, cfg.Timeout(), logger),
		Writer:    writer,
		Publisher: buildPublisher(ctx, cfg.PubSub, logger, &cl),
		Schema:    recordSchema,
		Hints:     hints,
	}, worker.Config{
		MaxPages:      cfg.Crawler.MaxPages,
		MaxRuntime:    cfg.MaxRuntime(),
		Force:         flags.force,
		RespectRobots: cfg.Crawler.RespectRobots,
		UserAgent:     cfg.Crawler.UserAgent,
		DetailLinkCap: cfg.Crawler.DetailLinkCap,
		NumberedCap:   cfg.Crawler.NumberedCap,
		AugmentBudget: cfg.Augment.Budget,
		DedupKeys:     cfg.Crawler.DedupKeys,
		RunID:         runID,
		OutputPath:    outPath,
		Topic:         cfg.PubSub.Topic,
	}, logger.Named("worker"))
	if err != nil {
		return err
	}

	meta, runErr := w.Run(ctx, startURL)
	summary, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(summary)); err != nil {
		return err
	}
	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, crawler.ErrDisallowed):
		return fmt.Errorf("crawl refused: %w", runErr)
	case isCanceled(runErr):
		logger.Warn("crawl interrupted", zap.String("run_id", runID))
		return runErr
	default:
		return fmt.Errorf("crawl: %w", runErr)
	}
}

// runtimeSeconds converts a --max-runtime value to whole seconds, rounding up.
// Zero keeps the budget unlimited.
func runtimeSeconds(d time.Duration) (int, error) {
	if d < 0 || (d > 0 && d < time.Second) {
		return 0, fmt.Errorf("--max-runtime must be 0 (unlimited) or at least 1s, got %s", d)
	}
	return int((d + time.Second - 1) / time.Second), nil
}
