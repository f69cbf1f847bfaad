// Package fetcher routes page fetches between the static and browser paths,
// gating each attempt on the shared rate limiter and retrying transient failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/metrics"
)

// Limiter gates outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options configures a Router. Static is required.
type Options struct {
	Static   crawler.Fetcher
	Browser  crawler.Fetcher
	Limiter  Limiter
	Retry    crawler.RetryPolicy
	Detector crawler.BrowserDetector
	Logger   *zap.Logger
}

// Router implements crawler.Fetcher over a static and an optional browser path.
type Router struct {
	static   crawler.Fetcher
	browser  crawler.Fetcher
	limiter  Limiter
	retry    crawler.RetryPolicy
	detector crawler.BrowserDetector
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	warnNoBrowser sync.Once
}

// NewRouter builds a Router. A nil Browser disables rendering and promotion,
// and browser requests are served by the static path.
func NewRouter(opts Options) (*Router, error) {
	if opts.Static == nil {
		return nil, errors.New("static fetcher is required")
	}
	if opts.Retry == nil {
		opts.Retry = crawler.NewExponentialRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{
		static:   opts.Static,
		browser:  opts.Browser,
		limiter:  opts.Limiter,
		retry:    opts.Retry,
		detector: opts.Detector,
		logger:   opts.Logger,
		sleep:    sleepCtx,
	}, nil
}

// Fetch retrieves request.URL, retrying transient failures per the retry policy.
// Non-2xx statuses are returned as *crawler.FetchError.
func (r *Router) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := r.attempt(ctx, request)
		if err == nil {
			metrics.ObservePage(request.URL, "ok", len(resp.Body))
			return r.maybePromote(ctx, request, resp), nil
		}
		lastErr = err
		if ctx.Err() != nil || !r.retry.ShouldRetry(err, attempt) {
			break
		}
		wait := r.retry.Backoff(attempt)
		r.logger.Warn("fetch failed, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveRetry(request.URL)
		if err := r.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	metrics.ObservePage(request.URL, "failed", 0)
	return crawler.FetchResponse{}, lastErr
}

func (r *Router) attempt(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := r.pathFor(request).Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if err := crawler.CheckStatus(request.URL, resp.StatusCode); err != nil {
		return crawler.FetchResponse{}, err
	}
	return resp, nil
}

func (r *Router) pathFor(request crawler.FetchRequest) crawler.Fetcher {
	if !request.UseBrowser {
		return r.static
	}
	if r.browser == nil {
		r.warnNoBrowser.Do(func() {
			r.logger.Warn("browser rendering requested but headless is disabled, using static fetch",
				zap.String("url", request.URL))
		})
		return r.static
	}
	return r.browser
}

// maybePromote re-fetches JS-shell pages through the browser. Any failure
// keeps the static response.
func (r *Router) maybePromote(ctx context.Context, request crawler.FetchRequest, resp crawler.FetchResponse) crawler.FetchResponse {
	if resp.UsedBrowser || r.browser == nil || r.detector == nil || !r.detector.ShouldPromote(resp) {
		return resp
	}
	promoted := request
	promoted.UseBrowser = true
	rendered, err := r.attempt(ctx, promoted)
	if err != nil {
		r.logger.Warn("browser promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp
	}
	r.logger.Info("browser promotion applied", zap.String("url", request.URL))
	rendered.UsedBrowser = true
	return rendered
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
