// Package detector decides when a statically fetched page is a JavaScript
// shell that should be re-fetched through the browser path.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const (
	defaultBodyThreshold = 2048
	defaultMinTextChars  = 200
	scriptCoveragePct    = 25
)

// Heuristic promotes pages using size, framework markers and visible text.
type Heuristic struct {
	BodyLengthThreshold int
	// MinTextChars is the visible-text floor below which a page carrying
	// framework markers is treated as unrendered.
	MinTextChars int
}

// NewHeuristic creates a new detector. Zero values pick defaults.
func NewHeuristic(threshold, minText int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	if minText <= 0 {
		minText = defaultMinTextChars
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextChars: minText}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("enable javascript"),
}

// ShouldPromote reports whether resp looks like a page whose content is
// rendered client-side.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedBrowser {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return visibleTextLen(body) < h.MinTextChars
		}
	}
	return false
}

func visibleTextLen(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= scriptCoveragePct
}
