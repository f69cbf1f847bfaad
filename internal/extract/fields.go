package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const (
	minNameLen    = 3
	maxNameLen    = 100
	maxTitleLen   = 200
	minBioLen     = 50
	maxBioLen     = 1000
	minBioParaLen = 30
	maxOrgLen     = 200
	maxLocLen     = 300
)

// Rule extracts one candidate value from a page or fragment. An empty result
// means the rule did not apply.
type Rule func(s *goquery.Selection) string

type fieldRules struct {
	name  string
	rules []Rule
}

// resolvers lists the built-in fields in resolution order. title depends on
// name, so name must come first.
var resolvers = []fieldRules{
	{"name", []Rule{
		bounded(firstText(`[itemprop="name"]`), minNameLen, maxNameLen),
		bounded(metaContent("og:title"), minNameLen, maxNameLen),
		bounded(metaContent("twitter:title"), minNameLen, maxNameLen),
		bounded(firstText("h1"), minNameLen, maxNameLen),
	}},
	{"email", []Rule{
		mailto,
		func(s *goquery.Selection) string { return preferredEmail(Emails(s.Text())) },
	}},
	{"phone", []Rule{
		tel,
		firstText(`[itemprop="telephone"]`),
		func(s *goquery.Selection) string {
			if phones := Phones(s.Text()); len(phones) > 0 {
				return strings.TrimSpace(phones[0])
			}
			return ""
		},
	}},
	{"title", []Rule{
		bounded(firstText(`[itemprop="jobTitle"]`), 1, maxTitleLen-1),
		bounded(firstText(`[class*="title"]`), 1, maxTitleLen-1),
		bounded(firstText(`[class*="position"]`), 1, maxTitleLen-1),
		bounded(firstText(`[class*="role"]`), 1, maxTitleLen-1),
		bounded(firstText(".job-title"), 1, maxTitleLen-1),
	}},
	{"bio", []Rule{
		bounded(firstText(`[itemprop="description"]`), minBioLen+1, -1),
		bounded(metaContent("description"), minBioLen+1, -1),
		bounded(firstText(`[class*="bio"]`), minBioLen+1, -1),
		bounded(firstText(`[class*="about"]`), minBioLen+1, -1),
		bounded(firstText(`[class*="description"]`), minBioLen+1, -1),
		bounded(firstText("#biography"), minBioLen+1, -1),
		bounded(firstText("#about"), minBioLen+1, -1),
		leadParagraphs,
	}},
	{"org", []Rule{
		bounded(firstText(`[itemprop="affiliation"]`), 1, maxOrgLen-1),
		bounded(firstText(`[class*="department"]`), 1, maxOrgLen-1),
		bounded(firstText(`[class*="organization"]`), 1, maxOrgLen-1),
		bounded(firstText(`[class*="affiliation"]`), 1, maxOrgLen-1),
		bounded(firstText(".dept"), 1, maxOrgLen-1),
		bounded(firstText(".org"), 1, maxOrgLen-1),
	}},
	{"location", []Rule{
		bounded(firstText(`[itemprop="address"]`), 1, maxLocLen-1),
		bounded(firstText(`[class*="location"]`), 1, maxLocLen-1),
		bounded(firstText(`[class*="address"]`), 1, maxLocLen-1),
		bounded(firstText(".office"), 1, maxLocLen-1),
	}},
}

// BuiltinFields names the fields Resolve produces.
func BuiltinFields() []string {
	names := make([]string, 0, len(resolvers)+1)
	for _, r := range resolvers {
		names = append(names, r.name)
	}
	return append(names, "page_url")
}

// Resolve extracts the built-in fields from a detail page. Unresolved fields
// are empty strings.
func Resolve(doc *goquery.Document, currentURL string) crawler.Record {
	rec := crawler.Record{}
	root := doc.Selection
	for _, field := range resolvers {
		rec[field.name] = ""
		for _, rule := range field.rules {
			v := rule(root)
			if v == "" {
				continue
			}
			if field.name == "title" && strings.EqualFold(v, rec["name"]) {
				continue
			}
			rec[field.name] = v
			break
		}
	}
	rec["bio"] = truncateRunes(rec["bio"], maxBioLen)
	rec["page_url"] = canonicalURL(root, currentURL)
	return rec
}

// ResolveSchema runs Resolve and then fills empty schema fields from labelled
// values. synonyms adds site-specific labels per field. The result has every
// schema field plus non-empty built-in fields outside the schema.
func ResolveSchema(doc *goquery.Document, currentURL string, schema crawler.Schema, synonyms map[string][]string) crawler.Record {
	resolved := Resolve(doc, currentURL)
	rec := crawler.Record{}
	for k, v := range resolved {
		if v != "" {
			rec[k] = v
		}
	}
	for _, field := range schema.Fields {
		if rec[field.Name] != "" {
			continue
		}
		labels := append([]string{strings.ReplaceAll(field.Name, "_", " ")}, field.Synonyms...)
		labels = append(labels, synonyms[field.Name]...)
		rec[field.Name] = Labeled(doc.Selection, labels)
	}
	return rec
}

func canonicalURL(s *goquery.Selection, currentURL string) string {
	if href := attr(s.Find(`link[rel="canonical"]`).First(), "href"); href != "" {
		if abs := crawler.ResolveURL(currentURL, href); abs != "" {
			return abs
		}
	}
	if content := attr(s.Find(`meta[property="og:url"]`).First(), "content"); content != "" {
		if abs := crawler.ResolveURL(currentURL, content); abs != "" {
			return abs
		}
	}
	return currentURL
}

func firstText(selector string) Rule {
	return func(s *goquery.Selection) string {
		return CleanText(s.Find(selector).First().Text())
	}
}

func metaContent(key string) Rule {
	selector := `meta[property="` + key + `"], meta[name="` + key + `"]`
	return func(s *goquery.Selection) string {
		return CleanText(attr(s.Find(selector).First(), "content"))
	}
}

// bounded keeps values whose rune length is within [minLen, maxLen]. A
// negative maxLen means no upper bound.
func bounded(rule Rule, minLen, maxLen int) Rule {
	return func(s *goquery.Selection) string {
		v := rule(s)
		n := runeLen(v)
		if n < minLen || (maxLen >= 0 && n > maxLen) {
			return ""
		}
		return v
	}
}

func acceptName(v string) string {
	if n := runeLen(v); n < minNameLen || n > maxNameLen {
		return ""
	}
	return v
}

func mailto(s *goquery.Selection) string {
	href := attr(s.Find(`a[href^="mailto:"]`).First(), "href")
	if href == "" {
		return ""
	}
	email := strings.TrimPrefix(href, "mailto:")
	email, _, _ = strings.Cut(email, "?")
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}

func tel(s *goquery.Selection) string {
	href := attr(s.Find(`a[href^="tel:"]`).First(), "href")
	return strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
}

func leadParagraphs(s *goquery.Selection) string {
	root := s.Find("main").First()
	if root.Length() == 0 {
		root = s.Find("body").First()
	}
	if root.Length() == 0 {
		root = s
	}
	var parts []string
	root.Find("p").Slice(0, min(3, root.Find("p").Length())).Each(func(_ int, p *goquery.Selection) {
		if text := CleanText(p.Text()); runeLen(text) > minBioParaLen {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}
