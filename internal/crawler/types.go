package crawler

import (
	"net/http"
	"strings"
	"time"
)

// FieldType is a schema type token such as "str" or "email?".
type FieldType string

// Supported field types. The "?" suffix marks the optional variant.
const (
	FieldString    FieldType = "str"
	FieldStringOpt FieldType = "str?"
	FieldEmail     FieldType = "email"
	FieldEmailOpt  FieldType = "email?"
	FieldURL       FieldType = "url"
	FieldURLOpt    FieldType = "url?"
	FieldInt       FieldType = "int"
	FieldIntOpt    FieldType = "int?"
	FieldBool      FieldType = "bool"
	FieldBoolOpt   FieldType = "bool?"
)

const optionalFieldToken = "?"

// Optional reports whether the type is the optional variant.
func (t FieldType) Optional() bool {
	return strings.HasSuffix(string(t), optionalFieldToken)
}

// Base strips the optional marker.
func (t FieldType) Base() FieldType {
	return FieldType(strings.TrimSuffix(string(t), optionalFieldToken))
}

// Valid reports whether t is one of the known tokens.
func (t FieldType) Valid() bool {
	switch t.Base() {
	case FieldString, FieldEmail, FieldURL, FieldInt, FieldBool:
		return true
	default:
		return false
	}
}

// FieldSchema describes one output field.
type FieldSchema struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Pattern  string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Synonyms []string  `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// Schema is the ordered list of fields a crawl produces.
type Schema struct {
	Fields []FieldSchema `json:"fields" yaml:"fields"`
}

// Field looks up a field definition by name.
func (s Schema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// IsRequired is true when the field exists and is not optional.
func (s Schema) IsRequired(name string) bool {
	f, ok := s.Field(name)
	return ok && !f.Type.Optional()
}

// Names returns field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// MissingRequired lists required fields that are empty in the record.
func (s Schema) MissingRequired(rec Record) []string {
	var missing []string
	for _, f := range s.Fields {
		if f.Type.Optional() {
			continue
		}
		if strings.TrimSpace(rec[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Types returns the simple name to token mapping.
func (s Schema) Types() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = string(f.Type)
	}
	return out
}

// DefaultSchema is used when no schema document is supplied.
func DefaultSchema() Schema {
	return Schema{Fields: []FieldSchema{
		{Name: "name", Type: FieldString},
		{Name: "title", Type: FieldStringOpt},
		{Name: "email", Type: FieldEmailOpt},
		{Name: "phone", Type: FieldStringOpt},
		{Name: "org", Type: FieldStringOpt},
		{Name: "location", Type: FieldStringOpt},
		{Name: "bio", Type: FieldStringOpt},
		{Name: "page_url", Type: FieldURLOpt},
	}}
}

// PageTask is one unit of crawl work. Depth 0 is a listing page, depth >= 1 a detail page.
type PageTask struct {
	URL       string
	PageNum   int
	ParentURL string
	Depth     int
	ID        string
}

// NewPageTask builds a task whose ID is derived from the normalized URL.
func NewPageTask(rawURL string, pageNum int, parentURL string, depth int) PageTask {
	if pageNum <= 0 {
		pageNum = 1
	}
	return PageTask{
		URL:       rawURL,
		PageNum:   pageNum,
		ParentURL: parentURL,
		Depth:     depth,
		ID:        TaskID(rawURL),
	}
}

// IsListing reports whether the task points at a listing page.
func (t PageTask) IsListing() bool {
	return t.Depth == 0
}

// Record maps field names to extracted values.
type Record map[string]string

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ExtractionMethod names how a record was produced.
type ExtractionMethod string

// Extraction methods.
const (
	MethodHeuristic ExtractionMethod = "heuristic"
	MethodHybrid    ExtractionMethod = "hybrid"
)

// ExtractedRecord wraps a record with provenance.
type ExtractedRecord struct {
	Data       Record
	SourceURL  string
	Method     ExtractionMethod
	Confidence float64
	Warnings   []string
}

// ID derives a stable identifier from the canonical page URL, then name and
// email, then the source URL.
func (r ExtractedRecord) ID() string {
	if pageURL := strings.TrimSpace(r.Data["page_url"]); pageURL != "" {
		return shortHash(pageURL)
	}
	var parts []string
	for _, field := range []string{"name", "email"} {
		if v := strings.ToLower(strings.TrimSpace(r.Data[field])); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return shortHash(strings.Join(parts, "|"))
	}
	return shortHash(r.SourceURL)
}

// PaginationStrategy is the detected continuation mechanism of a listing page.
type PaginationStrategy string

// Pagination strategies.
const (
	PaginationNextLink       PaginationStrategy = "next_link"
	PaginationNumbered       PaginationStrategy = "numbered"
	PaginationCursor         PaginationStrategy = "cursor"
	PaginationInfiniteScroll PaginationStrategy = "infinite_scroll"
	PaginationNone           PaginationStrategy = "none"
)

// Valid reports whether s is a known strategy.
func (s PaginationStrategy) Valid() bool {
	switch s {
	case PaginationNextLink, PaginationNumbered, PaginationCursor, PaginationInfiniteScroll, PaginationNone:
		return true
	default:
		return false
	}
}

// SiteHints are per-domain overrides. Empty values fall back to heuristics.
type SiteHints struct {
	RootURL             string              `yaml:"root_url" json:"root_url,omitempty"`
	ListItemSelector    string              `yaml:"list_item_selector" json:"list_item_selector,omitempty"`
	NextPageSelector    string              `yaml:"next_page_selector" json:"next_page_selector,omitempty"`
	ProfileLinkSelector string              `yaml:"profile_link_selector" json:"profile_link_selector,omitempty"`
	PaginationStrategy  PaginationStrategy  `yaml:"pagination_strategy" json:"pagination_strategy,omitempty"`
	FieldLabelSynonyms  map[string][]string `yaml:"field_label_synonyms" json:"field_label_synonyms,omitempty"`
	RequiresJS          bool                `yaml:"requires_js" json:"requires_js,omitempty"`
	WaitSelector        string              `yaml:"wait_selector" json:"wait_selector,omitempty"`
}

// RunParams are the caller-supplied limits of a run.
type RunParams struct {
	MaxPages   int           `json:"max_pages"`
	MaxRuntime time.Duration `json:"max_runtime"`
	Augment    bool          `json:"augment"`
	Force      bool          `json:"force"`
}

// RunMetadata aggregates counters for one crawl invocation.
type RunMetadata struct {
	RunID            string            `json:"run_id"`
	StartURL         string            `json:"start_url"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Duration         time.Duration     `json:"duration"`
	PagesFetched     int               `json:"pages_fetched"`
	PagesFailed      int               `json:"pages_failed"`
	RecordsExtracted int               `json:"records_extracted"`
	RecordsValid     int               `json:"records_valid"`
	RecordsInvalid   int               `json:"records_invalid"`
	AugmenterCalls   int               `json:"augmenter_calls"`
	OutputURI        string            `json:"output_uri,omitempty"`
	Errors           []string          `json:"errors"`
	Params           RunParams         `json:"params"`
	Schema           map[string]string `json:"schema"`
}

// Event kinds recorded in the run log.
const (
	EventPageFetched = "page_fetched"
	EventPageFailed  = "page_failed"
)

// Event is one append-only log entry. Key is usually a task ID.
type Event struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Key       string         `json:"key"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// FetchRequest describes one page fetch.
type FetchRequest struct {
	URL          string
	Headers      http.Header
	UseBrowser   bool
	WaitSelector string
	Scroll       bool
}

// FetchResponse carries the fetched markup.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}
