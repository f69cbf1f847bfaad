package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/augment/anthropic"
	"github.com/JakeFAU/dircrawl/internal/config"
	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/fetcher"
	collyfetcher "github.com/JakeFAU/dircrawl/internal/fetcher/colly"
	"github.com/JakeFAU/dircrawl/internal/fetcher/headless"
	"github.com/JakeFAU/dircrawl/internal/fetcher/headless/detector"
	"github.com/JakeFAU/dircrawl/internal/output"
	"github.com/JakeFAU/dircrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/dircrawl/internal/policy/robots"
	pubsubpublisher "github.com/JakeFAU/dircrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/dircrawl/internal/storage/gcs"
	"github.com/JakeFAU/dircrawl/internal/storage/local"
	"github.com/JakeFAU/dircrawl/internal/storage/memory"
	"github.com/JakeFAU/dircrawl/internal/storage/postgres"
	"github.com/JakeFAU/dircrawl/internal/storage/redis"
	"github.com/JakeFAU/dircrawl/internal/storage/sqlite"
)

// closers releases wired resources in reverse order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildFetcher(cfg config.Config, logger *zap.Logger, cl *closers) (crawler.Fetcher, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Timeout(),
	})

	var browser crawler.Fetcher
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			MaxScrolls:        cfg.Headless.MaxScrolls,
			ScrollSettle:      time.Duration(cfg.Headless.ScrollSettleMs) * time.Millisecond,
		}, logger.Named("headless"))
		if err != nil {
			logger.Warn("headless fetcher init failed, browser path disabled", zap.Error(err))
		} else {
			browser = chrome
			cl.add(chrome.Close)
		}
	}

	return fetcher.NewRouter(fetcher.Options{
		Static:   static,
		Browser:  browser,
		Limiter:  ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimit}),
		Retry:    retryPolicy(cfg.Retry),
		Detector: detector.NewHeuristic(cfg.Headless.PromotionThreshold, 0),
		Logger:   logger.Named("fetcher"),
	})
}

func retryPolicy(cfg config.RetryConfig) *crawler.ExponentialRetryPolicy {
	return &crawler.ExponentialRetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Multiplier:  time.Duration(cfg.MultiplierMs) * time.Millisecond,
		Floor:       time.Duration(cfg.FloorMs) * time.Millisecond,
		Ceiling:     time.Duration(cfg.CeilingMs) * time.Millisecond,
	}
}

func buildRunStore(ctx context.Context, cfg config.StoreConfig, cl *closers) (crawler.RunStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewRunStore(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = store.Close() })
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.NewRunStore(ctx, postgres.Config{DSN: cfg.DSN, TablePrefix: cfg.TablePrefix})
		if err != nil {
			return nil, err
		}
		cl.add(store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		store, client, err := redis.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = client.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildWriter(ctx context.Context, cfg config.OutputConfig, schema crawler.Schema, cl *closers) (*output.Writer, error) {
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	var blobs crawler.BlobStore
	if cfg.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		cl.add(func() { _ = client.Close() })
		blobs, err = gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, err
		}
	} else {
		blobs, err = local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, err
		}
	}
	return output.NewWriter(blobs, format, schema)
}

func buildAugmenter(cfg config.AugmentConfig, timeout time.Duration, logger *zap.Logger) crawler.Augmenter {
	if !cfg.Enabled {
		return nil
	}
	return anthropic.New(anthropic.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		BaseURL:    cfg.BaseURL,
		Timeout:    timeout,
		MaxRetries: -1,
	}, logger.Named("augment"))
}

func buildPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger, cl *closers) crawler.Publisher {
	if cfg.Topic == "" {
		return nil
	}
	pub, err := pubsubpublisher.Dial(ctx, cfg.ProjectID)
	if err != nil {
		logger.Warn("pubsub unavailable, run summary will not be published", zap.Error(err))
		return nil
	}
	cl.add(func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close pubsub publisher", zap.Error(err))
		}
	})
	return pub
}

func buildRobots(cfg config.CrawlerConfig, logger *zap.Logger) crawler.RobotsPolicy {
	if !cfg.RespectRobots {
		return robots.AllowAll{}
	}
	return robots.New(nil, logger.Named("robots"))
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
