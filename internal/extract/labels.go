package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const labelSelector = `dt, th, strong, b, label, [class*="label"]`

// Labeled finds the value paired with the first element whose text matches one
// of labels, ignoring case and a trailing colon.
func Labeled(s *goquery.Selection, labels []string) string {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l = normalizeLabel(l); l != "" {
			want[l] = true
		}
	}
	if len(want) == 0 {
		return ""
	}
	var value string
	s.Find(labelSelector).EachWithBreak(func(_ int, label *goquery.Selection) bool {
		text := collapse(label.Text())
		if !want[normalizeLabel(text)] {
			return true
		}
		value = labelValue(label, text)
		return value == ""
	})
	return value
}

func labelValue(label *goquery.Selection, labelText string) string {
	switch goquery.NodeName(label) {
	case "dt":
		return CleanText(label.NextFiltered("dd").Text())
	case "th":
		return CleanText(label.NextFiltered("td").Text())
	}
	parentText := collapse(label.Parent().Text())
	if rest, ok := strings.CutPrefix(parentText, labelText); ok {
		if v := CleanText(strings.TrimLeft(rest, ": ")); v != "" {
			return v
		}
	}
	return CleanText(label.Next().Text())
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":")))
}
