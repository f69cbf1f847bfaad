// Package output encodes finalized records and hands them to a blob store.
package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// Format selects the record encoding.
type Format string

// Supported formats.
const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat maps a config value to a Format. Empty means JSONL.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// ContentType returns the MIME type written alongside the object.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Writer implements crawler.RecordWriter.
type Writer struct {
	store  crawler.BlobStore
	format Format
	schema crawler.Schema
}

// NewWriter returns a Writer that stores encoded output in store.
func NewWriter(store crawler.BlobStore, format Format, schema crawler.Schema) (*Writer, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if format == "" {
		format = FormatJSONL
	}
	if format != FormatJSONL && format != FormatCSV {
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return &Writer{store: store, format: format, schema: schema}, nil
}

// Write encodes records and stores them at path, returning the object URI.
func (w *Writer) Write(ctx context.Context, path string, records []crawler.Record) (string, error) {
	var (
		buf bytes.Buffer
		err error
	)
	switch w.format {
	case FormatCSV:
		err = EncodeCSV(&buf, w.schema, records)
	default:
		err = EncodeJSONL(&buf, records)
	}
	if err != nil {
		return "", err
	}
	uri, err := w.store.PutObject(ctx, path, w.format.ContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("store output %s: %w", path, err)
	}
	return uri, nil
}

// EncodeJSONL writes one JSON object per record.
func EncodeJSONL(buf *bytes.Buffer, records []crawler.Record) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// EncodeCSV writes a header of schema fields followed by any extra keys in
// sorted order, then one row per record.
func EncodeCSV(buf *bytes.Buffer, schema crawler.Schema, records []crawler.Record) error {
	header := Columns(schema, records)
	cw := csv.NewWriter(buf)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, col := range header {
			row[i] = rec[col]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Columns returns the CSV column order for records.
func Columns(schema crawler.Schema, records []crawler.Record) []string {
	cols := schema.Names()
	known := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		known[c] = struct{}{}
	}
	var extra []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := known[k]; ok {
				continue
			}
			known[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}
