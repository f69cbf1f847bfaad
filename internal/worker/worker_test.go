package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/output"
	pubmemory "github.com/JakeFAU/dircrawl/internal/publisher/memory"
	"github.com/JakeFAU/dircrawl/internal/storage/memory"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []crawler.FetchRequest
	onFetch  func(url string)
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.onFetch
	body, ok := f.pages[req.URL]
	f.mu.Unlock()
	if hook != nil {
		hook(req.URL)
	}
	if !ok {
		return crawler.FetchResponse{}, crawler.CheckStatus(req.URL, 404)
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedID string

func (id fixedID) NewID() (string, error) { return string(id), nil }

type denyRobots struct{ calls int }

func (d *denyRobots) Allowed(context.Context, string, string) bool {
	d.calls++
	return false
}

type mockAugmenter struct {
	mock.Mock
}

func (m *mockAugmenter) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockAugmenter) Augment(
	ctx context.Context,
	pageText, pageURL string,
	schema crawler.Schema,
	partial crawler.Record,
) (crawler.Record, error) {
	args := m.Called(ctx, pageText, pageURL, schema, partial)
	rec, _ := args.Get(0).(crawler.Record)
	return rec, args.Error(1)
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, string, []crawler.Record) (string, error) {
	return "", errors.New("disk full")
}

func card(name, email string) string {
	return fmt.Sprintf(`<div class="person-card"><h3>%s</h3><a href="mailto:%s">%s</a></div>`, name, email, email)
}

func listingPage(next string, cards ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><section class="member-list">`)
	for _, c := range cards {
		b.WriteString(c)
	}
	b.WriteString(`</section>`)
	if next != "" {
		fmt.Fprintf(&b, `<a rel="next" href="%s">Next</a>`, next)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// twoPageSite is a listing with 3 cards on page 1 and 2 on page 2.
func twoPageSite() map[string]string {
	return map[string]string{
		"https://uni.edu/directory": listingPage("/directory?page=2",
			card("Ada Lovelace", "ada@uni.edu"),
			card("Grace Hopper", "grace@uni.edu"),
			card("Alan Turing", "alan@uni.edu"),
		),
		"https://uni.edu/directory?page=2": listingPage("",
			card("Edsger Dijkstra", "edsger@uni.edu"),
			card("Barbara Liskov", "barbara@uni.edu"),
		),
	}
}

func testClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func newTestWorker(t *testing.T, deps Deps, cfg Config) *Worker {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = testClock()
	}
	if deps.IDs == nil {
		deps.IDs = fixedID("run-test")
	}
	w, err := New(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{RunStore: memory.NewRunStore()}, Config{}, nil)
	require.Error(t, err)
	_, err = New(Deps{Fetcher: newFakeFetcher(nil)}, Config{}, nil)
	require.Error(t, err)

	w, err := New(Deps{Fetcher: newFakeFetcher(nil), RunStore: memory.NewRunStore()}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultDetailLinkCap, w.cfg.DetailLinkCap)
	assert.Equal(t, defaultAugmentBudget, w.cfg.AugmentBudget)
	assert.Equal(t, DefaultDedupKeys, w.cfg.DedupKeys)
	assert.NotEmpty(t, w.deps.Schema.Fields)
}

func TestRunTwoPageListing(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(twoPageSite())
	store := memory.NewRunStore()
	blobs := memory.NewBlobStore()
	writer, err := output.NewWriter(blobs, output.FormatJSONL, crawler.DefaultSchema())
	require.NoError(t, err)
	pub := pubmemory.New()

	w := newTestWorker(t, Deps{
		Fetcher:   fetcher,
		RunStore:  store,
		Writer:    writer,
		Publisher: pub,
	}, Config{OutputPath: "out/records.jsonl", Topic: "runs"})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)

	assert.Equal(t, 2, meta.PagesFetched)
	assert.Equal(t, 0, meta.PagesFailed)
	assert.Equal(t, 5, meta.RecordsExtracted)
	assert.Equal(t, 5, meta.RecordsValid)
	assert.Equal(t, 0, meta.RecordsInvalid)
	assert.Empty(t, meta.Errors)
	assert.Equal(t, "memory://out/records.jsonl", meta.OutputURI)
	require.NotNil(t, meta.CompletedAt)

	data, _, ok := blobs.Object("out/records.jsonl")
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Ada Lovelace")

	stored, ok := store.Run("run-test")
	require.True(t, ok)
	assert.Equal(t, 2, stored.PagesFetched)
	require.NotNil(t, stored.CompletedAt)

	events := store.Events("run-test")
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, crawler.EventPageFetched, ev.Kind)
	}
	assert.Equal(t, crawler.TaskID("https://uni.edu/directory"), events[0].Key)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)
	summary, ok := msgs[0].Payload.(RunCompleted)
	require.True(t, ok)
	assert.Equal(t, "run-test", summary.EventAttributes()["run_id"])
}

func TestRunResumeSkipsCompletedTasks(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	first := newFakeFetcher(twoPageSite())
	w := newTestWorker(t, Deps{Fetcher: first, RunStore: store}, Config{RunID: "run-resume"})
	_, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	require.Equal(t, 2, first.calls())

	second := newFakeFetcher(twoPageSite())
	w = newTestWorker(t, Deps{Fetcher: second, RunStore: store}, Config{RunID: "run-resume"})
	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, 0, second.calls())
	assert.Equal(t, 0, meta.PagesFetched)

	// Force bypasses the event log.
	third := newFakeFetcher(twoPageSite())
	w = newTestWorker(t, Deps{Fetcher: third, RunStore: store}, Config{RunID: "run-resume", Force: true})
	meta, err = w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, 2, third.calls())
	assert.Equal(t, 5, meta.RecordsValid)
}

func TestRunRobotsDenied(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(twoPageSite())
	store := memory.NewRunStore()
	robots := &denyRobots{}
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: store, Robots: robots},
		Config{RespectRobots: true, UserAgent: "dircrawl-test"})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.ErrorIs(t, err, crawler.ErrDisallowed)
	assert.Equal(t, 1, robots.calls)
	assert.Equal(t, 0, fetcher.calls())
	assert.Equal(t, 0, meta.PagesFetched)
	require.Len(t, meta.Errors, 1)
	assert.Contains(t, meta.Errors[0], "disallowed by robots.txt")
	_, stored := store.Run("run-test")
	assert.False(t, stored)
}

func TestRunRobotsIgnoredWhenNotRespected(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(twoPageSite())
	robots := &denyRobots{}
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore(), Robots: robots}, Config{})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, 0, robots.calls)
	assert.Equal(t, 2, meta.PagesFetched)
}

func TestRunPageBudget(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(twoPageSite())
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore()}, Config{MaxPages: 1})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls())
	assert.Equal(t, 1, meta.PagesFetched)
	assert.Equal(t, 3, meta.RecordsExtracted)
}

func TestRunRuntimeBudget(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://uni.edu/d":        listingPage("/d?page=2", card("A One", "a@uni.edu")),
		"https://uni.edu/d?page=2": listingPage("/d?page=3", card("B Two", "b@uni.edu")),
		"https://uni.edu/d?page=3": listingPage("", card("C Three", "c@uni.edu")),
	}
	clock := testClock()
	fetcher := newFakeFetcher(pages)
	fetcher.onFetch = func(string) { clock.Advance(20 * time.Second) }

	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore(), Clock: clock},
		Config{MaxRuntime: 30 * time.Second})

	meta, err := w.Run(context.Background(), "https://uni.edu/d")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls())
	assert.Equal(t, 2, meta.PagesFetched)
	assert.Equal(t, 40*time.Second, meta.Duration)
}

func TestRunPageFailureContinues(t *testing.T) {
	t.Parallel()

	pages := twoPageSite()
	delete(pages, "https://uni.edu/directory?page=2")
	store := memory.NewRunStore()
	w := newTestWorker(t, Deps{Fetcher: newFakeFetcher(pages), RunStore: store}, Config{})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.PagesFetched)
	assert.Equal(t, 1, meta.PagesFailed)
	assert.Equal(t, 3, meta.RecordsValid)
	require.Len(t, meta.Errors, 1)
	assert.Contains(t, meta.Errors[0], "https://uni.edu/directory?page=2")

	events := store.Events("run-test")
	require.Len(t, events, 2)
	assert.Equal(t, crawler.EventPageFailed, events[1].Kind)

	// The failed page is retried on resume.
	done, err := store.IsTaskCompleted(context.Background(), "run-test", crawler.TaskID("https://uni.edu/directory?page=2"))
	require.NoError(t, err)
	assert.False(t, done)
}

const detailListing = `<html><body><section class="member-list">
<div class="person-card"><h3>Jane Doe</h3><a href="/people/jane">Profile</a></div>
<div class="person-card"><h3>John Roe</h3><a href="/people/john">Profile</a></div>
</section>
<a href="/about">About us</a>
</body></html>`

const janePage = `<html><body>
<h1 itemprop="name">Dr. Jane Doe</h1>
<p class="position">Professor of Biology</p>
<a href="mailto:jane@uni.edu">Email</a>
</body></html>`

const johnPage = `<html><body>
<h1 itemprop="name">John Roe</h1>
<p class="position">Lecturer</p>
</body></html>`

func detailSite() map[string]string {
	return map[string]string{
		"https://uni.edu/people":      detailListing,
		"https://uni.edu/people/jane": janePage,
		"https://uni.edu/people/john": johnPage,
		"https://uni.edu/about":       "<html><body>About</body></html>",
	}
}

func TestRunFollowsDetailLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(detailSite())
	blobs := memory.NewBlobStore()
	writer, err := output.NewWriter(blobs, output.FormatJSONL, crawler.DefaultSchema())
	require.NoError(t, err)
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore(), Writer: writer},
		Config{OutputPath: "out.jsonl"})

	meta, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.PagesFetched, "listing plus two detail pages, /about is not a person url")
	assert.Equal(t, 2, meta.RecordsExtracted)

	data, _, ok := blobs.Object("out.jsonl")
	require.True(t, ok)
	out := string(data)
	// Detail pages fill the fields their listing card lacked.
	assert.Contains(t, out, `"email":"jane@uni.edu"`)
	assert.Contains(t, out, `"title":"Lecturer"`)
	assert.Contains(t, out, `"page_url":"https://uni.edu/people/jane"`)
}

func TestRunDetailLinkCap(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(detailSite())
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore()}, Config{DetailLinkCap: 1})

	meta, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.PagesFetched)
}

func TestRunHintsDriveFetchRequest(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(detailSite())
	hints := &crawler.SiteHints{
		RequiresJS:         true,
		WaitSelector:       ".person-card",
		PaginationStrategy: crawler.PaginationInfiniteScroll,
	}
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: memory.NewRunStore(), Hints: hints}, Config{})

	_, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	require.Len(t, fetcher.requests, 3)
	listing := fetcher.requests[0]
	assert.True(t, listing.UseBrowser)
	assert.True(t, listing.Scroll)
	assert.Equal(t, ".person-card", listing.WaitSelector)
	assert.False(t, fetcher.requests[1].Scroll, "detail pages are never scrolled")
}

func TestRunAugmentFillsOnlyEmptyFields(t *testing.T) {
	t.Parallel()

	schema := crawler.Schema{Fields: []crawler.FieldSchema{
		{Name: "name", Type: crawler.FieldString},
		{Name: "email", Type: crawler.FieldEmail},
		{Name: "title", Type: crawler.FieldStringOpt},
	}}
	aug := &mockAugmenter{}
	aug.On("Available").Return(true)
	aug.On("Augment", mock.Anything, mock.Anything, "https://uni.edu/people/john", schema, mock.Anything).
		Return(crawler.Record{"name": "Someone Else", "email": "john@uni.edu"}, nil).Once()

	pages := map[string]string{
		"https://uni.edu/people/john": johnPage,
	}
	store := memory.NewRunStore()
	blobs := memory.NewBlobStore()
	writer, err := output.NewWriter(blobs, output.FormatJSONL, schema)
	require.NoError(t, err)
	w := newTestWorker(t, Deps{
		Fetcher:   newFakeFetcher(pages),
		RunStore:  store,
		Augmenter: aug,
		Writer:    writer,
		Schema:    schema,
	}, Config{OutputPath: "out.jsonl"})

	// Seed a detail page directly by running from a listing that links to it.
	pages["https://uni.edu/people"] = `<html><body><a href="/people/john">John</a></body></html>`

	meta, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.AugmenterCalls)
	assert.True(t, meta.Params.Augment)
	aug.AssertExpectations(t)

	data, _, _ := blobs.Object("out.jsonl")
	out := string(data)
	assert.Contains(t, out, `"name":"John Roe"`)
	assert.Contains(t, out, `"email":"john@uni.edu"`)
	assert.NotContains(t, out, "Someone Else")
	assert.Contains(t, out, `"title":"Lecturer"`)
}

func TestRunAugmentErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	aug := &mockAugmenter{}
	aug.On("Available").Return(true)
	aug.On("Augment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("upstream 529"))

	schema := crawler.Schema{Fields: []crawler.FieldSchema{
		{Name: "name", Type: crawler.FieldString},
		{Name: "email", Type: crawler.FieldEmail},
	}}
	pages := map[string]string{
		"https://uni.edu/people":      `<html><body><a href="/people/john">John</a></body></html>`,
		"https://uni.edu/people/john": johnPage,
	}
	w := newTestWorker(t, Deps{Fetcher: newFakeFetcher(pages), RunStore: memory.NewRunStore(), Augmenter: aug, Schema: schema},
		Config{AugmentBudget: 5})

	meta, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.AugmenterCalls)
	assert.Equal(t, 1, meta.RecordsExtracted)
	assert.Equal(t, 1, meta.RecordsInvalid, "email is still missing")
}

func TestRunUnavailableAugmenterIsSkipped(t *testing.T) {
	t.Parallel()

	aug := &mockAugmenter{}
	aug.On("Available").Return(false)
	pages := map[string]string{
		"https://uni.edu/people":      `<html><body><a href="/people/john">John</a></body></html>`,
		"https://uni.edu/people/john": johnPage,
	}
	w := newTestWorker(t, Deps{Fetcher: newFakeFetcher(pages), RunStore: memory.NewRunStore(), Augmenter: aug}, Config{})

	meta, err := w.Run(context.Background(), "https://uni.edu/people")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.AugmenterCalls)
	assert.False(t, meta.Params.Augment)
	aug.AssertNotCalled(t, "Augment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunWriterFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	w := newTestWorker(t, Deps{Fetcher: newFakeFetcher(twoPageSite()), RunStore: store, Writer: failingWriter{}}, Config{})

	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, meta.Errors[len(meta.Errors)-1], "write output")

	stored, ok := store.Run("run-test")
	require.True(t, ok)
	require.NotNil(t, stored.CompletedAt, "run is still finalized")
}

func TestRunPublishFailureIsLoggedOnly(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.Fail(errors.New("topic deleted"))
	w := newTestWorker(t, Deps{Fetcher: newFakeFetcher(twoPageSite()), RunStore: memory.NewRunStore(), Publisher: pub},
		Config{Topic: "runs"})

	_, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Empty(t, pub.Messages())
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewRunStore()
	fetcher := newFakeFetcher(twoPageSite())
	w := newTestWorker(t, Deps{Fetcher: fetcher, RunStore: store}, Config{})

	meta, err := w.Run(ctx, "https://uni.edu/directory")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fetcher.calls())
	assert.Contains(t, meta.Errors[0], "run canceled")
	stored, ok := store.Run("run-test")
	require.True(t, ok)
	assert.NotNil(t, stored.CompletedAt)
}

func TestRunGeneratesRunID(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, Deps{
		Fetcher:  newFakeFetcher(twoPageSite()),
		RunStore: memory.NewRunStore(),
		IDs:      fixedID("generated-1"),
	}, Config{})
	meta, err := w.Run(context.Background(), "https://uni.edu/directory")
	require.NoError(t, err)
	assert.Equal(t, "generated-1", meta.RunID)
}

func TestSafeExtractRecoversPanic(t *testing.T) {
	t.Parallel()

	rec, err := safeExtract(func() crawler.Record { panic("bad selector") })
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Contains(t, err.Error(), "bad selector")

	rec, err = safeExtract(func() crawler.Record { return crawler.Record{"name": "A"} })
	require.NoError(t, err)
	assert.Equal(t, "A", rec["name"])
}
