package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// RunStore is a map-backed crawler.RunStore.
type RunStore struct {
	mu        sync.RWMutex
	runs      map[string]crawler.RunMetadata
	events    map[string][]crawler.Event
	completed map[string]map[string]struct{}
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:      make(map[string]crawler.RunMetadata),
		events:    make(map[string][]crawler.Event),
		completed: make(map[string]map[string]struct{}),
	}
}

// CreateRun stores meta. Re-creating an existing run keeps the stored row so
// a resumed run retains its history.
func (s *RunStore) CreateRun(_ context.Context, meta crawler.RunMetadata) error {
	if meta.RunID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[meta.RunID]; !exists {
		s.runs[meta.RunID] = cloneMeta(meta)
	}
	return nil
}

// UpdateRun replaces the stored metadata of an existing run.
func (s *RunStore) UpdateRun(_ context.Context, meta crawler.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[meta.RunID]; !ok {
		return errors.New("run not found")
	}
	s.runs[meta.RunID] = cloneMeta(meta)
	return nil
}

// LogEvent appends event. page_fetched events mark their key completed.
func (s *RunStore) LogEvent(_ context.Context, event crawler.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RunID] = append(s.events[event.RunID], event)
	if event.Kind == crawler.EventPageFetched && event.Key != "" {
		keys, ok := s.completed[event.RunID]
		if !ok {
			keys = make(map[string]struct{})
			s.completed[event.RunID] = keys
		}
		keys[event.Key] = struct{}{}
	}
	return nil
}

// IsTaskCompleted reports whether key has a page_fetched event in runID.
func (s *RunStore) IsTaskCompleted(_ context.Context, runID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[runID][key]
	return ok, nil
}

// Run returns the stored metadata for runID.
func (s *RunStore) Run(runID string) (crawler.RunMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.runs[runID]
	return cloneMeta(meta), ok
}

// Events returns a copy of the event log for runID.
func (s *RunStore) Events(runID string) []crawler.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Event(nil), s.events[runID]...)
}

func cloneMeta(meta crawler.RunMetadata) crawler.RunMetadata {
	meta.Errors = append([]string(nil), meta.Errors...)
	if meta.Schema != nil {
		schema := make(map[string]string, len(meta.Schema))
		for k, v := range meta.Schema {
			schema[k] = v
		}
		meta.Schema = schema
	}
	if meta.CompletedAt != nil {
		t := *meta.CompletedAt
		meta.CompletedAt = &t
	}
	return meta
}
