package worker

import (
	"strings"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// Dedup keeps the first record for each key built from the lowercased,
// trimmed values of keys. Records with no key values are always kept.
// Dedup(Dedup(x, k), k) equals Dedup(x, k).
func Dedup(records []crawler.Record, keys []string) []crawler.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]crawler.Record, 0, len(records))
	for _, rec := range records {
		key := DedupKey(rec, keys)
		if key == "" {
			out = append(out, rec)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// DedupKey joins the non-empty normalized values of keys with "|".
func DedupKey(rec crawler.Record, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.ToLower(strings.TrimSpace(rec[k])); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "|")
}
