package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BrowserDetector decides whether a static response needs a browser render.
type BrowserDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// RunStore persists run metadata and the append-only event log.
type RunStore interface {
	CreateRun(ctx context.Context, meta RunMetadata) error
	UpdateRun(ctx context.Context, meta RunMetadata) error
	LogEvent(ctx context.Context, event Event) error
	IsTaskCompleted(ctx context.Context, runID, key string) (bool, error)
}

// RobotsPolicy answers whether a URL may be crawled. Implementations fail open.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Augmenter fills schema fields the heuristics left empty.
// A nil record with a nil error means nothing was produced.
type Augmenter interface {
	Available() bool
	Augment(ctx context.Context, pageText, pageURL string, schema Schema, partial Record) (Record, error)
}

// RecordWriter serializes finalized records and returns the output location.
type RecordWriter interface {
	Write(ctx context.Context, path string, records []Record) (string, error)
}

// BlobStore writes an encoded artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
