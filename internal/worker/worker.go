// Package worker implements the crawl orchestrator: it owns the task queue,
// the depth policy, run-scoped idempotency and record dedup.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/clock/system"
	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/extract"
	"github.com/JakeFAU/dircrawl/internal/id/uuid"
	"github.com/JakeFAU/dircrawl/internal/metrics"
	"github.com/JakeFAU/dircrawl/internal/pagination"
	"github.com/JakeFAU/dircrawl/internal/queue/memory"
	"github.com/JakeFAU/dircrawl/internal/schema"
)

const (
	defaultDetailLinkCap = 50
	defaultAugmentBudget = 1000

	listingConfidence = 0.8
	detailConfidence  = 0.9
)

// DefaultDedupKeys is the final-pass dedup key.
var DefaultDedupKeys = []string{"page_url", "name"}

// Deps are the collaborators of a Worker. Only Fetcher and RunStore are required.
type Deps struct {
	Fetcher   crawler.Fetcher
	RunStore  crawler.RunStore
	Robots    crawler.RobotsPolicy
	Augmenter crawler.Augmenter
	Writer    crawler.RecordWriter
	Publisher crawler.Publisher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Schema    crawler.Schema
	Hints     *crawler.SiteHints
}

// Config controls Worker behavior.
type Config struct {
	MaxPages      int
	MaxRuntime    time.Duration
	Force         bool
	RespectRobots bool
	UserAgent     string
	DetailLinkCap int
	// NumberedCap overrides the numbered-pagination cap; 0 derives it from MaxPages.
	NumberedCap   int
	AugmentBudget int
	DedupKeys     []string
	// RunID resumes an existing run when set.
	RunID      string
	OutputPath string
	Topic      string
}

// Worker runs crawls. A Worker may run several crawls concurrently as long
// as they use distinct run IDs.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.RunStore == nil {
		return nil, errors.New("run store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewUUIDGenerator()
	}
	if len(deps.Schema.Fields) == 0 {
		deps.Schema = crawler.DefaultSchema()
	}
	if cfg.DetailLinkCap <= 0 {
		cfg.DetailLinkCap = defaultDetailLinkCap
	}
	if cfg.AugmentBudget <= 0 {
		cfg.AugmentBudget = defaultAugmentBudget
	}
	if len(cfg.DedupKeys) == 0 {
		cfg.DedupKeys = DefaultDedupKeys
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// run is the state of one Run call.
type run struct {
	meta     crawler.RunMetadata
	queue    *memory.Queue
	engine   *pagination.Engine
	queued   map[string]struct{}
	seen     map[string]int
	records  []crawler.ExtractedRecord
	logger   *zap.Logger
	deadline time.Time
}

// Run crawls from startURL until the queue drains or a budget is spent. It
// always returns the run metadata; the error is non-nil only for a robots
// denial, a setup failure, cancellation or an output failure.
func (w *Worker) Run(ctx context.Context, startURL string) (crawler.RunMetadata, error) {
	runID := w.cfg.RunID
	if runID == "" {
		id, err := w.deps.IDs.NewID()
		if err != nil {
			return crawler.RunMetadata{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	started := w.deps.Clock.Now()
	r := &run{
		meta: crawler.RunMetadata{
			RunID:     runID,
			StartURL:  startURL,
			StartedAt: started,
			Errors:    []string{},
			Params: crawler.RunParams{
				MaxPages:   w.cfg.MaxPages,
				MaxRuntime: w.cfg.MaxRuntime,
				Augment:    w.augmentEnabled(),
				Force:      w.cfg.Force,
			},
			Schema: w.deps.Schema.Types(),
		},
		logger: w.logger.With(zap.String("run_id", runID)),
	}
	if w.cfg.MaxRuntime > 0 {
		r.deadline = started.Add(w.cfg.MaxRuntime)
	}

	r.logger.Info("crawl started",
		zap.String("start_url", startURL),
		zap.Int("max_pages", w.cfg.MaxPages),
		zap.Duration("max_runtime", w.cfg.MaxRuntime),
	)

	if w.cfg.RespectRobots && w.deps.Robots != nil &&
		!w.deps.Robots.Allowed(ctx, startURL, w.cfg.UserAgent) {
		r.logger.Warn("start url disallowed by robots.txt", zap.String("url", startURL))
		r.meta.Errors = append(r.meta.Errors, "disallowed by robots.txt: "+startURL)
		w.finish(r)
		metrics.ObserveRun("disallowed")
		return r.meta, fmt.Errorf("%s: %w", startURL, crawler.ErrDisallowed)
	}

	if err := w.deps.RunStore.CreateRun(ctx, r.meta); err != nil {
		metrics.ObserveRun("failed")
		return r.meta, fmt.Errorf("create run: %w", err)
	}

	r.queue = memory.NewQueue()
	r.engine = pagination.New(w.cfg.MaxPages)
	if w.cfg.NumberedCap > 0 {
		r.engine.MaxNumbered = w.cfg.NumberedCap
	}
	r.queued = make(map[string]struct{})
	r.seen = make(map[string]int)
	r.engine.MarkSeen(startURL)
	w.enqueue(r, crawler.NewPageTask(startURL, 1, "", 0))

	runErr := w.crawl(ctx, r)

	// Finalization must still reach the store after cancellation.
	finalCtx := context.WithoutCancel(ctx)
	if err := w.finalize(finalCtx, r); err != nil && runErr == nil {
		runErr = err
	}
	w.finish(r)
	if err := w.deps.RunStore.UpdateRun(finalCtx, r.meta); err != nil {
		r.logger.Error("update run failed", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("update run: %w", err)
		}
	}
	w.publish(finalCtx, r)

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	metrics.ObserveRun(status)
	r.logger.Info("crawl completed",
		zap.Int("pages_fetched", r.meta.PagesFetched),
		zap.Int("pages_failed", r.meta.PagesFailed),
		zap.Int("records_extracted", r.meta.RecordsExtracted),
		zap.Int("records_valid", r.meta.RecordsValid),
		zap.Int("records_invalid", r.meta.RecordsInvalid),
		zap.Duration("duration", r.meta.Duration),
	)
	return r.meta, runErr
}

func (w *Worker) crawl(ctx context.Context, r *run) error {
	for {
		if err := ctx.Err(); err != nil {
			r.meta.Errors = append(r.meta.Errors, "run canceled: "+err.Error())
			return fmt.Errorf("crawl canceled: %w", err)
		}
		if w.cfg.MaxPages > 0 && r.meta.PagesFetched >= w.cfg.MaxPages {
			r.logger.Info("page budget reached", zap.Int("max_pages", w.cfg.MaxPages))
			return nil
		}
		if !r.deadline.IsZero() && !w.deps.Clock.Now().Before(r.deadline) {
			r.logger.Warn("runtime budget reached", zap.Duration("max_runtime", w.cfg.MaxRuntime))
			return nil
		}
		task, ok := r.queue.Pop()
		if !ok {
			return nil
		}
		if !w.cfg.Force {
			done, err := w.deps.RunStore.IsTaskCompleted(ctx, r.meta.RunID, task.ID)
			if err != nil {
				r.logger.Warn("task completion lookup failed", zap.String("task_id", task.ID), zap.Error(err))
			} else if done {
				r.logger.Debug("task already completed", zap.String("task_id", task.ID), zap.String("url", task.URL))
				continue
			}
		}
		w.processTask(ctx, r, task)
	}
}

func (w *Worker) processTask(ctx context.Context, r *run, task crawler.PageTask) {
	resp, err := w.deps.Fetcher.Fetch(ctx, w.fetchRequest(task))
	if err != nil {
		r.meta.PagesFailed++
		r.meta.Errors = append(r.meta.Errors, fmt.Sprintf("%s: %v", task.URL, err))
		r.logger.Warn("page fetch failed", zap.String("url", task.URL), zap.Error(err))
		w.logEvent(ctx, r, crawler.EventPageFailed, task.ID, map[string]any{
			"url":   task.URL,
			"error": err.Error(),
		})
		return
	}
	r.meta.PagesFetched++
	w.logEvent(ctx, r, crawler.EventPageFetched, task.ID, map[string]any{
		"url":    task.URL,
		"status": resp.StatusCode,
	})
	r.logger.Info("page fetched",
		zap.String("url", task.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("page_num", task.PageNum),
		zap.Int("depth", task.Depth),
		zap.Bool("browser", resp.UsedBrowser),
	)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.meta.Errors = append(r.meta.Errors, fmt.Sprintf("parse %s: %v", task.URL, err))
		r.logger.Warn("parse page failed", zap.String("url", task.URL), zap.Error(err))
		return
	}
	pageURL := task.URL
	if resp.URL != "" {
		pageURL = resp.URL
	}
	if task.IsListing() {
		w.processListing(r, task, doc, pageURL)
		return
	}
	w.processDetail(ctx, r, doc, pageURL)
}

func (w *Worker) fetchRequest(task crawler.PageTask) crawler.FetchRequest {
	req := crawler.FetchRequest{URL: task.URL}
	if h := w.deps.Hints; h != nil {
		req.UseBrowser = h.RequiresJS
		req.WaitSelector = h.WaitSelector
		req.Scroll = task.IsListing() && h.PaginationStrategy == crawler.PaginationInfiniteScroll
	}
	return req
}

func (w *Worker) processListing(r *run, task crawler.PageTask, doc *goquery.Document, pageURL string) {
	h := w.hints()
	items := extract.DiscoverItems(doc, h.ListItemSelector)
	r.logger.Debug("listing items discovered", zap.String("url", pageURL), zap.Int("count", len(items)))
	for _, item := range items {
		rec, err := safeExtract(func() crawler.Record {
			return extract.FromItem(item.Selection, pageURL, h.ProfileLinkSelector)
		})
		if err != nil {
			r.meta.Errors = append(r.meta.Errors, fmt.Sprintf("extract item on %s: %v", pageURL, err))
			r.logger.Warn("item extraction failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		w.retain(r, crawler.ExtractedRecord{
			Data:       rec,
			SourceURL:  pageURL,
			Method:     crawler.MethodHeuristic,
			Confidence: listingConfidence,
		})
	}

	details := 0
	for _, link := range extract.DetailLinks(doc, pageURL, h.ProfileLinkSelector) {
		if details >= w.cfg.DetailLinkCap {
			break
		}
		if h.ProfileLinkSelector == "" && !extract.IsPersonURL(link) {
			continue
		}
		if w.enqueue(r, crawler.NewPageTask(link, 1, pageURL, task.Depth+1)) {
			details++
		}
	}

	strategy := h.PaginationStrategy
	if strategy == "" && h.NextPageSelector != "" {
		strategy = crawler.PaginationNextLink
	}
	if strategy == "" {
		strategy = r.engine.Detect(doc, pageURL)
	}
	next := r.engine.NextPages(doc, pageURL, strategy, h.NextPageSelector)
	for _, t := range next {
		t.PageNum = max(t.PageNum, task.PageNum+1)
		w.enqueue(r, t)
	}
	r.logger.Debug("listing processed",
		zap.String("url", pageURL),
		zap.String("strategy", string(strategy)),
		zap.Int("detail_links", details),
		zap.Int("next_pages", len(next)),
	)
}

func (w *Worker) processDetail(ctx context.Context, r *run, doc *goquery.Document, pageURL string) {
	h := w.hints()
	rec, err := safeExtract(func() crawler.Record {
		return extract.ResolveSchema(doc, pageURL, w.deps.Schema, h.FieldLabelSynonyms)
	})
	if err != nil {
		r.meta.Errors = append(r.meta.Errors, fmt.Sprintf("extract %s: %v", pageURL, err))
		r.logger.Warn("detail extraction failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	method := crawler.MethodHeuristic
	if w.augmentEnabled() {
		method = crawler.MethodHybrid
		rec = w.augment(ctx, r, doc, pageURL, rec)
	}
	w.retain(r, crawler.ExtractedRecord{
		Data:       rec,
		SourceURL:  pageURL,
		Method:     method,
		Confidence: detailConfidence,
	})
}

// augment overlays augmenter output onto the empty fields of rec.
func (w *Worker) augment(ctx context.Context, r *run, doc *goquery.Document, pageURL string, rec crawler.Record) crawler.Record {
	missing := w.deps.Schema.MissingRequired(rec)
	if len(missing) == 0 {
		return rec
	}
	if r.meta.AugmenterCalls >= w.cfg.AugmentBudget {
		r.logger.Debug("augment budget exhausted", zap.Int("budget", w.cfg.AugmentBudget))
		return rec
	}
	r.meta.AugmenterCalls++
	filled, err := w.deps.Augmenter.Augment(ctx, extract.PageText(doc), pageURL, w.deps.Schema, rec.Clone())
	if err != nil {
		metrics.ObserveAugment("error")
		r.logger.Warn("augment failed", zap.String("url", pageURL), zap.Error(err))
		return rec
	}
	if len(filled) == 0 {
		metrics.ObserveAugment("empty")
		return rec
	}
	metrics.ObserveAugment("filled")
	out := rec.Clone()
	for k, v := range filled {
		if strings.TrimSpace(out[k]) == "" && strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	r.logger.Debug("record augmented", zap.String("url", pageURL), zap.Strings("missing", missing))
	return out
}

// retain keeps rec unless its ID was already seen; a repeat only fills the
// empty fields of the record kept first.
func (w *Worker) retain(r *run, rec crawler.ExtractedRecord) {
	id := rec.ID()
	if idx, ok := r.seen[id]; ok {
		kept := r.records[idx].Data
		for k, v := range rec.Data {
			if strings.TrimSpace(kept[k]) == "" && strings.TrimSpace(v) != "" {
				kept[k] = v
			}
		}
		return
	}
	r.seen[id] = len(r.records)
	r.records = append(r.records, rec)
}

// enqueue pushes t unless a task with the same ID was queued in this run.
func (w *Worker) enqueue(r *run, t crawler.PageTask) bool {
	if _, ok := r.queued[t.ID]; ok {
		return false
	}
	r.queued[t.ID] = struct{}{}
	r.queue.Push(t)
	return true
}

func (w *Worker) finalize(ctx context.Context, r *run) error {
	data := make([]crawler.Record, len(r.records))
	for i, rec := range r.records {
		data[i] = rec.Data
	}
	unique := Dedup(data, w.cfg.DedupKeys)

	invalid := 0
	for _, rec := range unique {
		if problems := schema.Validate(w.deps.Schema, rec); len(problems) > 0 {
			invalid++
			r.logger.Debug("record failed validation",
				zap.String("page_url", rec["page_url"]),
				zap.Strings("problems", problems),
			)
		}
	}
	r.meta.RecordsExtracted = len(data)
	r.meta.RecordsInvalid = invalid
	r.meta.RecordsValid = len(unique) - invalid
	for _, rec := range r.records {
		metrics.ObserveRecord(string(rec.Method))
	}

	if w.deps.Writer == nil {
		return nil
	}
	path := w.cfg.OutputPath
	if path == "" {
		path = r.meta.RunID + ".jsonl"
	}
	uri, err := w.deps.Writer.Write(ctx, path, unique)
	if err != nil {
		r.meta.Errors = append(r.meta.Errors, "write output: "+err.Error())
		r.logger.Error("write output failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("write output: %w", err)
	}
	r.meta.OutputURI = uri
	r.logger.Info("output written", zap.String("uri", uri), zap.Int("records", len(unique)))
	return nil
}

func (w *Worker) finish(r *run) {
	done := w.deps.Clock.Now()
	r.meta.CompletedAt = &done
	r.meta.Duration = done.Sub(r.meta.StartedAt)
}

func (w *Worker) publish(ctx context.Context, r *run) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, RunCompleted{RunMetadata: r.meta})
	if err != nil {
		r.logger.Warn("publish run summary failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	r.logger.Debug("run summary published", zap.String("message_id", id))
}

func (w *Worker) logEvent(ctx context.Context, r *run, kind, key string, meta map[string]any) {
	err := w.deps.RunStore.LogEvent(ctx, crawler.Event{
		RunID:     r.meta.RunID,
		Timestamp: w.deps.Clock.Now(),
		Kind:      kind,
		Key:       key,
		Meta:      meta,
	})
	if err != nil {
		r.logger.Warn("log event failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	}
}

func (w *Worker) hints() crawler.SiteHints {
	if w.deps.Hints == nil {
		return crawler.SiteHints{}
	}
	return *w.deps.Hints
}

func (w *Worker) augmentEnabled() bool {
	return w.deps.Augmenter != nil && w.deps.Augmenter.Available()
}

// safeExtract turns a panic inside fn into an error.
func safeExtract(fn func() crawler.Record) (rec crawler.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(), nil
}

// RunCompleted is the payload published when a run finishes.
type RunCompleted struct {
	crawler.RunMetadata
}

// EventAttributes are attached to the published message.
func (e RunCompleted) EventAttributes() map[string]string {
	return map[string]string{
		"event":  "run_completed",
		"run_id": e.RunID,
	}
}
