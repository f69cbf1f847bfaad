// Package redis keeps run metadata and the event log in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const keyPrefix = "dircrawl:"

// RunStore implements crawler.RunStore on Redis.
//
// Layout per run: a JSON string at dircrawl:run:<id>, a list of JSON events at
// dircrawl:events:<id> and a set of completed task keys at dircrawl:keys:<id>.
type RunStore struct {
	client goredis.Cmdable
}

// New wraps an existing client.
func New(client goredis.Cmdable) (*RunStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RunStore{client: client}, nil
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr string) (*RunStore, *goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	store, err := New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

func runKey(id string) string    { return keyPrefix + "run:" + id }
func eventsKey(id string) string { return keyPrefix + "events:" + id }
func doneKey(id string) string   { return keyPrefix + "keys:" + id }

// CreateRun stores meta unless the run already exists.
func (s *RunStore) CreateRun(ctx context.Context, meta crawler.RunMetadata) error {
	if meta.RunID == "" {
		return errors.New("run id is required")
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := s.client.SetNX(ctx, runKey(meta.RunID), payload, 0).Err(); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the stored metadata of an existing run.
func (s *RunStore) UpdateRun(ctx context.Context, meta crawler.RunMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	ok, err := s.client.SetXX(ctx, runKey(meta.RunID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if !ok {
		return fmt.Errorf("update run %s: not found", meta.RunID)
	}
	return nil
}

// GetRun loads the stored metadata for runID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.RunMetadata, error) {
	raw, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		return crawler.RunMetadata{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	var meta crawler.RunMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return crawler.RunMetadata{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return meta, nil
}

// LogEvent appends event and, for page_fetched, marks its key completed in the same transaction.
func (s *RunStore) LogEvent(ctx context.Context, event crawler.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, eventsKey(event.RunID), payload)
		if event.Kind == crawler.EventPageFetched && event.Key != "" {
			pipe.SAdd(ctx, doneKey(event.RunID), event.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns the event log for runID in append order.
func (s *RunStore) Events(ctx context.Context, runID string) ([]crawler.Event, error) {
	raw, err := s.client.LRange(ctx, eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]crawler.Event, 0, len(raw))
	for _, item := range raw {
		var ev crawler.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// IsTaskCompleted reports whether key was logged as page_fetched for runID.
func (s *RunStore) IsTaskCompleted(ctx context.Context, runID, key string) (bool, error) {
	done, err := s.client.SIsMember(ctx, doneKey(runID), key).Result()
	if err != nil {
		return false, fmt.Errorf("query task completion: %w", err)
	}
	return done, nil
}
