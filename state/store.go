// Package state defines the narrow record store the engine persists through:
// keyed records with a kind, reachable by get/put/delete and a small query
// surface. Checkpoints, job records, and embedded chunks all live behind it.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrConflict = errors.New("state: conflict")
)

// Record kinds used by the engine. Backends treat the kind as an opaque
// index value.
const (
	KindCheckpoint = "checkpoint"
	KindJob        = "job"
	KindChunk      = "chunk"
	KindSource     = "source"
)

type Record struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Query filters records by kind and optional key prefix. Results come back
// ordered by key so callers see a stable view regardless of backend. A
// Limit of zero or less returns every match.
type Query struct {
	Kind   string
	Prefix string
	Limit  int
}

type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, key string) error
	Query(ctx context.Context, query Query) ([]Record, error)
	Close() error
}

// PutJSON marshals value and stores it under key with the given kind.
func PutJSON(ctx context.Context, store Store, kind, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Put(ctx, Record{Key: key, Kind: kind, Data: raw})
}

// GetJSON loads the record at key and unmarshals its data into out.
func GetJSON(ctx context.Context, store Store, key string, out any) error {
	record, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(record.Data, out)
}
