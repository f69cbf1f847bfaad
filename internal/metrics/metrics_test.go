package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()
	if crawlerPagesTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObservePage(t *testing.T) {
	before := testutil.ToFloat64(crawlerPagesTotalFor("pages.test", "ok"))
	ObservePage("https://pages.test/people", "ok", 512)
	ObservePage("https://pages.test/people?page=2", "ok", 0)

	if got := testutil.ToFloat64(crawlerPagesTotalFor("pages.test", "ok")) - before; got != 2 {
		t.Errorf("expected 2 pages observed, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("pages.test")); got < 512 {
		t.Errorf("expected at least 512 bytes observed, got %f", got)
	}
}

func TestObserveCounters(t *testing.T) {
	Init()
	retries := testutil.ToFloat64(crawlerFetchRetriesTotal.WithLabelValues("retry.test"))
	records := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("hybrid"))
	augments := testutil.ToFloat64(crawlerAugmenterCallsTotal.WithLabelValues("filled"))
	runs := testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("completed"))
	robots := testutil.ToFloat64(crawlerRobotsFailuresTotal)

	ObserveRetry("https://retry.test/x")
	ObserveRecord("hybrid")
	ObserveAugment("filled")
	ObserveRun("completed")
	ObserveRobotsFailure()
	ObserveRateLimitDelay(20 * time.Millisecond)

	checks := []struct {
		name   string
		before float64
		after  float64
	}{
		{"retries", retries, testutil.ToFloat64(crawlerFetchRetriesTotal.WithLabelValues("retry.test"))},
		{"records", records, testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("hybrid"))},
		{"augments", augments, testutil.ToFloat64(crawlerAugmenterCallsTotal.WithLabelValues("filled"))},
		{"runs", runs, testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("completed"))},
		{"robots", robots, testutil.ToFloat64(crawlerRobotsFailuresTotal)},
	}
	for _, c := range checks {
		if c.after-c.before != 1 {
			t.Errorf("%s: expected +1, got %f", c.name, c.after-c.before)
		}
	}
	if n := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); n != 1 {
		t.Errorf("expected rate limit histogram to be collected, got %d", n)
	}
}

func crawlerPagesTotalFor(site, status string) prometheus.Counter {
	Init()
	return crawlerPagesTotal.WithLabelValues(site, status)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
