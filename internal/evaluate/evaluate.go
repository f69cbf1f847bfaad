// Package evaluate scores a crawl's JSONL output for duplicates, field
// completeness and field validity.
package evaluate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JakeFAU/dircrawl/internal/crawler"
	"github.com/JakeFAU/dircrawl/internal/schema"
	"github.com/JakeFAU/dircrawl/internal/worker"
)

// Thresholds that trigger warnings.
const (
	MinKeyFieldCompleteness = 90.0
	MinEmailValidity        = 95.0
	DefaultLowCount         = 10
)

var (
	// DefaultDupeKeys identify a person when checking for duplicates.
	DefaultDupeKeys = []string{"name", "email"}

	keyFields = []string{"name", "page_url"}
	urlFields = []string{"page_url", "linkedin_url"}
)

// Options tune an evaluation. Zero values select the defaults.
type Options struct {
	DupeKeys    []string
	ExpectedMin int
	ExpectedMax int
	// LowCount warns when fewer records are present. Negative disables it.
	LowCount int
}

// Report is the result of Evaluate. Percentages are in the range 0 to 100.
type Report struct {
	Total         int                `json:"total_records"`
	Unique        int                `json:"unique_records"`
	Duplicates    int                `json:"duplicates"`
	DuplicateRate float64            `json:"duplicate_rate"`
	Completeness  map[string]float64 `json:"field_completeness"`
	Validity      map[string]float64 `json:"field_validity"`
	Warnings      []string           `json:"warnings"`
}

// ReadJSONL decodes one record per non-blank line. Non-string values are
// formatted with fmt.Sprint.
func ReadJSONL(r io.Reader) ([]crawler.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var records []crawler.Record
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := make(crawler.Record, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
				rec[k] = ""
			case string:
				rec[k] = val
			default:
				rec[k] = fmt.Sprint(val)
			}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// Evaluate computes the report for records.
func Evaluate(records []crawler.Record, opts Options) Report {
	if len(opts.DupeKeys) == 0 {
		opts.DupeKeys = DefaultDupeKeys
	}
	if opts.LowCount == 0 {
		opts.LowCount = DefaultLowCount
	}
	rep := Report{
		Total:        len(records),
		Completeness: map[string]float64{},
		Validity:     map[string]float64{},
		Warnings:     []string{},
	}
	rep.duplicates(records, opts.DupeKeys)
	rep.completeness(records)
	rep.validity(records)

	if opts.LowCount > 0 && rep.Total < opts.LowCount {
		rep.warn("Very low record count: %d (expected more for a directory crawl)", rep.Total)
	}
	if opts.ExpectedMin > 0 && rep.Total < opts.ExpectedMin {
		diff := opts.ExpectedMin - rep.Total
		rep.warn("Record count %d is below expected minimum %d (difference: %d, %.1f%%)",
			rep.Total, opts.ExpectedMin, diff, pct(diff, opts.ExpectedMin))
	}
	if opts.ExpectedMax > 0 && rep.Total > opts.ExpectedMax {
		diff := rep.Total - opts.ExpectedMax
		rep.warn("Record count %d is above expected maximum %d (difference: %d, %.1f%%)",
			rep.Total, opts.ExpectedMax, diff, pct(diff, opts.ExpectedMax))
	}
	return rep
}

func (r *Report) duplicates(records []crawler.Record, keys []string) {
	seen := make(map[string]struct{})
	for _, rec := range records {
		key := worker.DedupKey(rec, keys)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			r.Duplicates++
			continue
		}
		seen[key] = struct{}{}
	}
	r.Unique = len(seen)
	if r.Total > 0 {
		r.DuplicateRate = pct(r.Duplicates, r.Total)
	}
	if r.Duplicates > 0 {
		r.warn("Found %d duplicates (%.1f%%) based on %s", r.Duplicates, r.DuplicateRate, strings.Join(keys, ", "))
	}
}

func (r *Report) completeness(records []crawler.Record) {
	if len(records) == 0 {
		return
	}
	filled := map[string]int{}
	for _, rec := range records {
		for k, v := range rec {
			if _, ok := filled[k]; !ok {
				filled[k] = 0
			}
			if strings.TrimSpace(v) != "" {
				filled[k]++
			}
		}
	}
	for field, n := range filled {
		r.Completeness[field] = pct(n, len(records))
	}
	for _, field := range keyFields {
		if c, ok := r.Completeness[field]; ok && c < MinKeyFieldCompleteness {
			r.warn("Low completeness for '%s': %.1f%%", field, c)
		}
	}
}

func (r *Report) validity(records []crawler.Record) {
	if valid, total := count(records, "email", schema.ValidEmail); total > 0 {
		v := pct(valid, total)
		r.Validity["email"] = v
		if v < MinEmailValidity {
			r.warn("Email validity: %.1f%% (%d/%d)", v, valid, total)
		}
	}
	for _, field := range urlFields {
		if valid, total := count(records, field, schema.ValidURL); total > 0 {
			r.Validity[field] = pct(valid, total)
		}
	}
}

func count(records []crawler.Record, field string, ok func(string) bool) (valid, total int) {
	for _, rec := range records {
		v := strings.TrimSpace(rec[field])
		if v == "" {
			continue
		}
		total++
		if ok(v) {
			valid++
		}
	}
	return valid, total
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func pct(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}

type fieldPct struct {
	field string
	pct   float64
}

// byCompleteness orders fields by descending percentage, then name.
func byCompleteness(m map[string]float64) []fieldPct {
	out := make([]fieldPct, 0, len(m))
	for k, v := range m {
		out = append(out, fieldPct{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pct != out[j].pct {
			return out[i].pct > out[j].pct
		}
		return out[i].field < out[j].field
	})
	return out
}

func byName(m map[string]float64) []fieldPct {
	out := make([]fieldPct, 0, len(m))
	for k, v := range m {
		out = append(out, fieldPct{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].field < out[j].field })
	return out
}
