package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

var personURLPatterns = []string{
	"/people/", "/person/", "/profile/", "/faculty/", "/staff/",
	"/team/", "/member/", "/employee/", "/researcher/", "/expert/",
}

var detailHrefRe = regexp.MustCompile(`(?i)/(people|person|profile|faculty|staff|member)/`)

// DetailLinks returns absolute, de-duplicated detail-page links in document
// order. selector, when set, replaces the href heuristic.
func DetailLinks(doc *goquery.Document, pageURL, selector string) []string {
	sel := selector
	if sel == "" {
		sel = "a[href]"
	}
	seen := make(map[string]bool)
	var links []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		href := attr(s, "href")
		if href == "" {
			return
		}
		if selector == "" && !detailHrefRe.MatchString(href) {
			return
		}
		abs := crawler.ResolveURL(pageURL, href)
		if abs == "" {
			return
		}
		key := crawler.NormalizeURL(abs)
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, abs)
	})
	return links
}

// IsPersonURL reports whether rawURL looks like an individual profile page.
func IsPersonURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range personURLPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
