// Package redis persists records in Redis. Records live under a prefixed
// key; a per-kind sorted set keeps the query surface ordered without
// SCAN-ing the keyspace.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notesmith-ai/notesmith/state"
)

const (
	defaultPrefix = "notesmith"
	defaultTTL    = 0 // no expiry
)

type Store struct {
	client   *goredis.Client
	addr     string
	password string
	db       int
	prefix   string
	ttl      time.Duration
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithTTL expires records after the given duration. Zero means keep forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	s := &Store{
		addr:   addr,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}
	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) recordKey(key string) string {
	return s.prefix + ":record:" + key
}

func (s *Store) kindIndex(kind string) string {
	return s.prefix + ":kind:" + kind
}

func (s *Store) Get(ctx context.Context, key string) (state.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Result()
	if err != nil {
		if err == goredis.Nil {
			return state.Record{}, state.ErrNotFound
		}
		return state.Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	var record state.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return state.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return record, nil
}

func (s *Store) Put(ctx context.Context, record state.Record) error {
	if record.Key == "" {
		return fmt.Errorf("record key is required")
	}
	if record.Kind == "" {
		return fmt.Errorf("record kind is required")
	}
	now := time.Now().UTC()
	if existing, err := s.Get(ctx, record.Key); err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(record.Key), raw, s.ttl)
	pipe.ZAdd(ctx, s.kindIndex(record.Kind), goredis.Z{Score: 0, Member: record.Key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	record, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(key))
	pipe.ZRem(ctx, s.kindIndex(record.Kind), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, query state.Query) ([]state.Record, error) {
	if query.Kind == "" {
		return nil, fmt.Errorf("redis store queries require a kind")
	}
	// A non-positive limit returns every match; redis treats count -1 as
	// unbounded.
	count := int64(query.Limit)
	if count <= 0 {
		count = -1
	}

	// Lexicographic range over the kind index; score is constant so members
	// sort by key.
	min, max := "-", "+"
	if query.Prefix != "" {
		min = "[" + query.Prefix
		max = "[" + query.Prefix + "\xff"
	}
	keys, err := s.client.ZRangeByLex(ctx, s.kindIndex(query.Kind), &goredis.ZRangeBy{
		Min: min, Max: max, Offset: 0, Count: count,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return []state.Record{}, nil
		}
		return nil, fmt.Errorf("failed to query kind index: %w", err)
	}
	if len(keys) == 0 {
		return []state.Record{}, nil
	}

	recordKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		recordKeys = append(recordKeys, s.recordKey(k))
	}
	values, err := s.client.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queried records: %w", err)
	}

	out := make([]state.Record, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			// Index entry outlived an expired record; drop it lazily.
			_ = s.client.ZRem(ctx, s.kindIndex(query.Kind), keys[i]).Err()
			continue
		}
		var record state.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to decode record %q: %w", keys[i], err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ state.Store = (*Store)(nil)
