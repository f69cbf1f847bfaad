package pagination

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func urls(tasks []crawler.PageTask) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.URL)
	}
	return out
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		html       string
		currentURL string
		want       crawler.PaginationStrategy
	}{
		{
			name: "rel next anchor",
			html: `<a rel="next" href="/people?page=2">Next</a>`,
			want: crawler.PaginationNextLink,
		},
		{
			name: "rel next link element",
			html: `<html><head><link rel="next" href="/people?page=2"></head><body></body></html>`,
			want: crawler.PaginationNextLink,
		},
		{
			name: "numbered container",
			html: `<nav class="pagination"><a href="?page=1">1</a><a href="?page=2">2</a><a href="?page=3">3</a></nav>`,
			want: crawler.PaginationNumbered,
		},
		{
			name: "single numeric link is not numbered",
			html: `<div class="pager"><a href="?page=2">2</a><a href="?page=3">Last</a></div>`,
			want: crawler.PaginationNone,
		},
		{
			name: "load more class",
			html: `<div class="load-more-wrapper"><span>more</span></div>`,
			want: crawler.PaginationInfiniteScroll,
		},
		{
			name: "load more button text",
			html: `<button type="button">Load More People</button>`,
			want: crawler.PaginationInfiniteScroll,
		},
		{
			name:       "cursor parameter in url",
			html:       `<ul><li>Jane</li></ul>`,
			currentURL: "https://example.com/people?after=abc",
			want:       crawler.PaginationCursor,
		},
		{
			name: "nothing",
			html: `<ul><li>Jane</li></ul>`,
			want: crawler.PaginationNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			current := tt.currentURL
			if current == "" {
				current = "https://example.com/people"
			}
			assert.Equal(t, tt.want, New(10).Detect(mustDoc(t, tt.html), current))
		})
	}
}

// A page with both a numbered container and a rel=next link classifies as next_link.
func TestDetectNextLinkPrecedence(t *testing.T) {
	t.Parallel()

	html := `
	<nav class="pagination">
		<a href="/people?page=1">1</a>
		<a href="/people?page=2">2</a>
		<a href="/people?page=3">3</a>
		<a href="/people?page=2" rel="next">Next</a>
	</nav>`
	assert.Equal(t, crawler.PaginationNextLink, New(10).Detect(mustDoc(t, html), "https://example.com/people"))
}

func TestNextPagesNextLink(t *testing.T) {
	t.Parallel()

	html := `
	<nav>
		<a href="/people?page=1">1</a>
		<a href="/people?page=2" rel="next">Next</a>
	</nav>`
	e := New(10)
	tasks := e.NextPages(mustDoc(t, html), "https://university.edu/people", crawler.PaginationNextLink, "")
	require.Len(t, tasks, 1)
	assert.Equal(t, "https://university.edu/people?page=2", tasks[0].URL)
	assert.Equal(t, "https://university.edu/people", tasks[0].ParentURL)
	assert.Equal(t, 0, tasks[0].Depth)
	assert.Equal(t, crawler.TaskID(tasks[0].URL), tasks[0].ID)

	// Already emitted, so a second call yields nothing.
	assert.Empty(t, e.NextPages(mustDoc(t, html), "https://university.edu/people", crawler.PaginationNextLink, ""))
}

func TestNextPagesNextLinkByText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"Next", "next page", "→", "»", "›"} {
		html := `<div><a href="/a">About</a><a href="/people/p2">` + text + `</a></div>`
		tasks := New(10).NextPages(mustDoc(t, html), "https://example.com/people", crawler.PaginationNextLink, "")
		require.Len(t, tasks, 1, text)
		assert.Equal(t, "https://example.com/people/p2", tasks[0].URL)
	}
}

func TestNextPagesSelectorOverride(t *testing.T) {
	t.Parallel()

	html := `<a rel="next" href="/wrong">Next</a><span class="go"><a class="fwd" href="/right">Forward</a></span>`
	tasks := New(10).NextPages(mustDoc(t, html), "https://example.com/", crawler.PaginationNextLink, "a.fwd")
	require.Len(t, tasks, 1)
	assert.Equal(t, "https://example.com/right", tasks[0].URL)
}

func TestNextPagesSelectorFallsBackToHeuristics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"rel next", `<a rel="next" href="/people?page=2">2</a>`, "https://example.com/people?page=2"},
		{"next text", `<a href="/about">About</a><a href="/people/p2">Next</a>`, "https://example.com/people/p2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tasks := New(10).NextPages(mustDoc(t, tt.html), "https://example.com/people", crawler.PaginationNextLink, "a.pager-next")
			require.Len(t, tasks, 1)
			assert.Equal(t, tt.want, tasks[0].URL)
		})
	}
}

func TestNextPagesSelectorAlreadySeenFallsBack(t *testing.T) {
	t.Parallel()

	html := `<a class="fwd" href="/people?page=1">Forward</a><a rel="next" href="/people?page=2">Next</a>`
	e := New(10)
	e.MarkSeen("https://example.com/people?page=1")
	tasks := e.NextPages(mustDoc(t, html), "https://example.com/people", crawler.PaginationNextLink, "a.fwd")
	require.Len(t, tasks, 1)
	assert.Equal(t, "https://example.com/people?page=2", tasks[0].URL)
}

func TestNextPagesNumbered(t *testing.T) {
	t.Parallel()

	html := `
	<ul class="pagination">
		<li><a href="?page=1">1</a></li>
		<li><a href="?page=10">10</a></li>
		<li><a href="?page=3">3</a></li>
		<li><a href="?page=2">2</a></li>
		<li><a href="?page=2">Next</a></li>
		<li><a href="#">…</a></li>
	</ul>`
	e := New(0)
	e.MarkSeen("https://example.com/people?page=1")
	tasks := e.NextPages(mustDoc(t, html), "https://example.com/people?page=1", crawler.PaginationNumbered, "")
	assert.Equal(t, []string{
		"https://example.com/people?page=2",
		"https://example.com/people?page=3",
		"https://example.com/people?page=10",
	}, urls(tasks))
	assert.Equal(t, 2, tasks[0].PageNum)
	assert.Equal(t, 10, tasks[2].PageNum)
}

func TestNextPagesNumberedCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<div class="pager">`)
	for _, n := range []string{"2", "3", "4", "5", "6"} {
		b.WriteString(`<a href="/people/page/` + n + `">` + n + `</a>`)
	}
	b.WriteString(`</div>`)

	e := New(3)
	require.Equal(t, 2, e.MaxNumbered)
	tasks := e.NextPages(mustDoc(t, b.String()), "https://example.com/people", crawler.PaginationNumbered, "")
	assert.Equal(t, []string{"https://example.com/people/page/2", "https://example.com/people/page/3"}, urls(tasks))

	e = New(10)
	e.MaxNumbered = 0
	tasks = e.NextPages(mustDoc(t, b.String()), "https://example.com/people", crawler.PaginationNumbered, "")
	assert.Len(t, tasks, 5)
}

func TestNextPagesNumberedNoDuplicates(t *testing.T) {
	t.Parallel()

	html := `
	<nav role="navigation">
		<a href="/page/1">1</a>
		<a href="/page/2">2</a>
		<a href="/page/2/">Next</a>
	</nav>`
	tasks := New(10).NextPages(mustDoc(t, html), "https://example.com/page/1", crawler.PaginationNumbered, "")
	got := urls(tasks)
	seen := map[string]bool{}
	for _, u := range got {
		key := crawler.NormalizeURL(u)
		assert.False(t, seen[key], "duplicate %s", u)
		seen[key] = true
	}
	assert.Len(t, got, 2)
}

func TestNextPagesCursor(t *testing.T) {
	t.Parallel()

	html := `
	<a href="/people?sort=name">Next</a>
	<a href="/people?cursor=xyz">Load more</a>`
	tasks := New(10).NextPages(mustDoc(t, html), "https://example.com/people", crawler.PaginationCursor, "")
	require.Len(t, tasks, 1)
	assert.Equal(t, "https://example.com/people?cursor=xyz", tasks[0].URL)
}

func TestNextPagesOtherStrategies(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<a rel="next" href="/p2">Next</a>`)
	e := New(10)
	assert.Empty(t, e.NextPages(doc, "https://example.com", crawler.PaginationNone, ""))
	assert.Empty(t, e.NextPages(doc, "https://example.com", crawler.PaginationInfiniteScroll, ""))
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	e := New(10)
	tasks := e.Generate("https://example.com/people", 3, "page", 1)
	require.Len(t, tasks, 3)
	assert.Contains(t, tasks[0].URL, "page=1")
	assert.Contains(t, tasks[1].URL, "page=2")
	assert.Contains(t, tasks[2].URL, "page=3")
	assert.Equal(t, 3, tasks[2].PageNum)

	// Existing parameters are kept and the page parameter is replaced.
	tasks = e.Generate("https://example.com/people?dept=bio&p=9", 2, "p", 4)
	assert.Equal(t, []string{
		"https://example.com/people?dept=bio&p=4",
		"https://example.com/people?dept=bio&p=5",
	}, urls(tasks))

	// Already generated URLs are skipped.
	assert.Len(t, e.Generate("https://example.com/people", 4, "page", 1), 1)
}

func TestMarkSeen(t *testing.T) {
	t.Parallel()

	e := New(10)
	e.MarkSeen("https://Example.com/people/#top")
	assert.True(t, e.Seen("https://example.com/people"))
	tasks := e.NextPages(mustDoc(t, `<a rel="next" href="/people/">Next</a>`), "https://example.com/x", crawler.PaginationNextLink, "")
	assert.Empty(t, tasks)
}
