package evaluate

import (
	"fmt"
	"strings"
)

// Text renders a plain summary.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Records: %d\n", r.Total)
	fmt.Fprintf(&b, "Unique Records: %d\n", r.Unique)
	if r.Duplicates > 0 {
		fmt.Fprintf(&b, "Duplicates: %d (%.1f%%)\n", r.Duplicates, r.DuplicateRate)
	}
	b.WriteString("\nField Completeness:\n")
	for _, f := range byCompleteness(r.Completeness) {
		fmt.Fprintf(&b, "  %s: %.1f%%\n", f.field, f.pct)
	}
	if len(r.Validity) > 0 {
		b.WriteString("\nField Validity:\n")
		for _, f := range byName(r.Validity) {
			fmt.Fprintf(&b, "  %s: %.1f%%\n", f.field, f.pct)
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  ! %s\n", w)
		}
	}
	return b.String()
}

// Markdown renders the report as a Markdown document.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Crawl Evaluation Report\n\n## Overview\n\n")
	fmt.Fprintf(&b, "- **Total Records**: %d\n", r.Total)
	fmt.Fprintf(&b, "- **Unique Records**: %d\n", r.Unique)
	fmt.Fprintf(&b, "- **Duplicates**: %d\n", r.Duplicates)
	if r.Total > 0 {
		fmt.Fprintf(&b, "- **Duplicate Rate**: %.2f%%\n", r.DuplicateRate)
	}

	b.WriteString("\n## Field Completeness\n\n| Field | Completeness |\n|-------|--------------|\n")
	for _, f := range byCompleteness(r.Completeness) {
		fmt.Fprintf(&b, "| %s | %.1f%% %s |\n", f.field, f.pct, status(f.pct, 90, 50))
	}
	if len(r.Validity) > 0 {
		b.WriteString("\n## Field Validity\n\n| Field | Validity |\n|-------|----------|\n")
		for _, f := range byName(r.Validity) {
			fmt.Fprintf(&b, "| %s | %.1f%% %s |\n", f.field, f.pct, status(f.pct, 95, 80))
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func status(v, good, fair float64) string {
	switch {
	case v >= good:
		return "ok"
	case v >= fair:
		return "warn"
	default:
		return "fail"
	}
}
