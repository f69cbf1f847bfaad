// Package extract locates person-like items on listing pages and resolves
// record fields on detail pages using ordered, site-agnostic rules.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	disallowedRe  = regexp.MustCompile(`[^\p{L}\p{N}_\s@.,;:!?()\-]`)
	emailRe       = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\+\d{1,3}[-.\s]?\(?\d{1,4}\)?[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`),
	}
	genericEmailTokens = []string{"example", "test", "noreply", "no-reply"}
)

// CleanText collapses whitespace, strips characters other than letters,
// digits, whitespace and basic punctuation, and trims the result.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = disallowedRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// PageText returns the visible body text of doc with scripts and styles
// removed and whitespace collapsed. doc is not modified.
func PageText(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	clone := root.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return collapse(clone.Text())
}

// Emails returns the addresses found in text, in order.
func Emails(text string) []string {
	return emailRe.FindAllString(text, -1)
}

// Phones returns phone-like numbers in text, US formats first.
func Phones(text string) []string {
	var out []string
	for _, re := range phonePatterns {
		out = append(out, re.FindAllString(text, -1)...)
	}
	return out
}

// preferredEmail returns the first address that is not a placeholder, falling
// back to the first address.
func preferredEmail(candidates []string) string {
	for _, email := range candidates {
		lower := strings.ToLower(email)
		generic := false
		for _, token := range genericEmailTokens {
			if strings.Contains(lower, token) {
				generic = true
				break
			}
		}
		if !generic {
			return email
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
