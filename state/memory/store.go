// Package memory provides an in-process record store. It backs tests and
// single-process deployments that do not need persistence across restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notesmith-ai/notesmith/state"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]state.Record
}

func New() *Store {
	return &Store{records: map[string]state.Record{}}
}

func (s *Store) Get(ctx context.Context, key string) (state.Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return state.Record{}, state.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *Store) Put(ctx context.Context, record state.Record) error {
	_ = ctx
	if record.Key == "" {
		return fmt.Errorf("record key is required")
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.Key]; ok {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[record.Key] = cloneRecord(record)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return state.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *Store) Query(ctx context.Context, query state.Query) ([]state.Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]state.Record, 0)
	for _, record := range s.records {
		if query.Kind != "" && record.Kind != query.Kind {
			continue
		}
		if query.Prefix != "" && !strings.HasPrefix(record.Key, query.Prefix) {
			continue
		}
		out = append(out, cloneRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func cloneRecord(record state.Record) state.Record {
	if record.Data != nil {
		data := make([]byte, len(record.Data))
		copy(data, record.Data)
		record.Data = data
	}
	return record
}

var _ state.Store = (*Store)(nil)
