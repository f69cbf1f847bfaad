// Package pagination detects how a listing page paginates and emits the
// follow-up page tasks, remembering every URL it has handed out.
package pagination

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const (
	numberedContainerSelector = `[class*="pagination"], [class*="pager"], nav[role="navigation"]`
	relNextSelector           = `a[rel="next"], link[rel="next"]`
)

var (
	nextTexts   = map[string]bool{"next": true, "next page": true, "→": true, "»": true, "›": true}
	cursorTexts = map[string]bool{"next": true, "more": true, "load more": true}
	cursorKeys  = []string{"cursor", "after", "offset"}
)

// Engine holds the per-run set of pagination URLs already emitted.
// It is safe for concurrent use.
type Engine struct {
	// MaxNumbered caps the pages emitted from one numbered container. <= 0 is unlimited.
	MaxNumbered int

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an Engine for a run bounded by maxPages (0 means unbounded).
func New(maxPages int) *Engine {
	e := &Engine{seen: make(map[string]struct{})}
	if maxPages > 0 {
		e.MaxNumbered = max(maxPages-1, 1)
	}
	return e
}

// MarkSeen records rawURL so it is never emitted.
func (e *Engine) MarkSeen(rawURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[crawler.NormalizeURL(rawURL)] = struct{}{}
}

// Seen reports whether rawURL was marked or emitted.
func (e *Engine) Seen(rawURL string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[crawler.NormalizeURL(rawURL)]
	return ok
}

// claim marks rawURL seen and reports whether it was new.
func (e *Engine) claim(rawURL string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := crawler.NormalizeURL(rawURL)
	if _, ok := e.seen[key]; ok {
		return false
	}
	e.seen[key] = struct{}{}
	return true
}

// Detect classifies the pagination of doc. The first matching rule wins:
// rel=next, a numbered container, a load-more control, a cursor query parameter.
func (e *Engine) Detect(doc *goquery.Document, currentURL string) crawler.PaginationStrategy {
	switch {
	case doc.Find(relNextSelector).Length() > 0:
		return crawler.PaginationNextLink
	case hasNumberedPagination(doc):
		return crawler.PaginationNumbered
	case hasLoadMore(doc):
		return crawler.PaginationInfiniteScroll
	case hasCursorParam(currentURL):
		return crawler.PaginationCursor
	default:
		return crawler.PaginationNone
	}
}

// NextPages returns the page tasks to enqueue after currentURL. selector, when
// non-empty, locates the next link for the next_link strategy.
func (e *Engine) NextPages(doc *goquery.Document, currentURL string, strategy crawler.PaginationStrategy, selector string) []crawler.PageTask {
	switch strategy {
	case crawler.PaginationNextLink:
		return e.nextLink(doc, currentURL, selector)
	case crawler.PaginationNumbered:
		return e.numbered(doc, currentURL)
	case crawler.PaginationCursor:
		return e.cursor(doc, currentURL)
	default:
		return nil
	}
}

func (e *Engine) nextLink(doc *goquery.Document, currentURL, selector string) []crawler.PageTask {
	// A hinted selector goes first; the rel=next and link-text scans still run
	// when it yields no new URL.
	var candidates []*goquery.Selection
	if selector != "" {
		candidates = append(candidates, doc.Find(selector))
	}
	candidates = append(candidates, doc.Find(relNextSelector))
	candidates = append(candidates, doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return nextTexts[linkText(s)]
	}))
	for _, sel := range candidates {
		var task *crawler.PageTask
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			abs := resolveHref(currentURL, s)
			if abs == "" || !e.claim(abs) {
				return true
			}
			t := crawler.NewPageTask(abs, 0, currentURL, 0)
			task = &t
			return false
		})
		if task != nil {
			return []crawler.PageTask{*task}
		}
	}
	return nil
}

type numberedLink struct {
	url string
	num int
}

func (e *Engine) numbered(doc *goquery.Document, currentURL string) []crawler.PageTask {
	container := doc.Find(numberedContainerSelector).First()
	if container.Length() == 0 {
		return nil
	}
	byURL := make(map[string]numberedLink)
	container.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := linkText(s)
		num, isNum := pageNumber(text)
		if !isNum && !nextTexts[text] {
			return
		}
		abs := resolveHref(currentURL, s)
		if abs == "" || e.Seen(abs) {
			return
		}
		key := crawler.NormalizeURL(abs)
		if existing, ok := byURL[key]; ok && existing.num > 0 {
			return
		}
		byURL[key] = numberedLink{url: abs, num: num}
	})

	links := make([]numberedLink, 0, len(byURL))
	for _, l := range byURL {
		links = append(links, l)
	}
	// Numbered links ascend by page number; next-like links without a number go last.
	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if (a.num > 0) != (b.num > 0) {
			return a.num > 0
		}
		if a.num != b.num {
			return a.num < b.num
		}
		return a.url < b.url
	})
	if e.MaxNumbered > 0 && len(links) > e.MaxNumbered {
		links = links[:e.MaxNumbered]
	}

	tasks := make([]crawler.PageTask, 0, len(links))
	for _, l := range links {
		if !e.claim(l.url) {
			continue
		}
		tasks = append(tasks, crawler.NewPageTask(l.url, l.num, currentURL, 0))
	}
	return tasks
}

func (e *Engine) cursor(doc *goquery.Document, currentURL string) []crawler.PageTask {
	var tasks []crawler.PageTask
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !cursorTexts[linkText(s)] {
			return true
		}
		href, _ := s.Attr("href")
		if !hasCursorParam(href) {
			return true
		}
		abs := crawler.ResolveURL(currentURL, href)
		if abs == "" || !e.claim(abs) {
			return true
		}
		tasks = append(tasks, crawler.NewPageTask(abs, 0, currentURL, 0))
		return false
	})
	return tasks
}

// Generate synthesizes count page URLs by setting param on base, starting at
// start. URLs already seen are skipped.
func (e *Engine) Generate(base string, count int, param string, start int) []crawler.PageTask {
	u, err := url.Parse(base)
	if err != nil || count <= 0 {
		return nil
	}
	if param == "" {
		param = "page"
	}
	tasks := make([]crawler.PageTask, 0, count)
	for n := start; n < start+count; n++ {
		q := u.Query()
		q.Set(param, strconv.Itoa(n))
		next := *u
		next.RawQuery = q.Encode()
		next.Fragment = ""
		abs := next.String()
		if !e.claim(abs) {
			continue
		}
		tasks = append(tasks, crawler.NewPageTask(abs, n, "", 0))
	}
	return tasks
}

func hasNumberedPagination(doc *goquery.Document) bool {
	container := doc.Find(numberedContainerSelector).First()
	if container.Length() == 0 {
		return false
	}
	count := 0
	container.Find("a").Each(func(_ int, s *goquery.Selection) {
		if _, ok := pageNumber(linkText(s)); ok {
			count++
		}
	})
	return count >= 2
}

func hasLoadMore(doc *goquery.Document) bool {
	if doc.Find(`[class*="load-more"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find("button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.Contains(strings.ToLower(s.Text()), "load more")
		return !found
	})
	return found
}

func hasCursorParam(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()
	for _, key := range cursorKeys {
		if q.Has(key) {
			return true
		}
	}
	return false
}

func linkText(s *goquery.Selection) string {
	return strings.ToLower(strings.TrimSpace(s.Text()))
}

func resolveHref(base string, s *goquery.Selection) string {
	href, ok := s.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return crawler.ResolveURL(base, href)
}

// pageNumber parses text made only of ASCII digits.
func pageNumber(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}
