// Package retrieval ranks stored content chunks against a query by cosine
// similarity of their embeddings. It reads chunks through the narrow record
// store interface, so the same code works over the in-memory, sqlite, and
// redis backends.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/notesmith-ai/notesmith/llm"
	"github.com/notesmith-ai/notesmith/state"
)

const chunkPrefix = "chunk:"

// Chunk is one embedded slice of an ingested source.
type Chunk struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"sourceId"`
	Position  int       `json:"position"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the record key the chunk is stored under.
func (c Chunk) Key() string { return chunkPrefix + c.ID }

// Scored pairs a chunk with its similarity to the query.
type Scored struct {
	Chunk Chunk
	Score float64
}

type Retriever struct {
	store    state.Store
	embedder llm.Embedder
	topK     int
	minScore float64
}

type Option func(*Retriever)

// WithTopK caps the number of returned chunks. Defaults to 5.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMinScore drops chunks scoring below the threshold. Defaults to 0.
func WithMinScore(score float64) Option {
	return func(r *Retriever) { r.minScore = score }
}

func New(store state.Store, embedder llm.Embedder, opts ...Option) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	r := &Retriever{store: store, embedder: embedder, topK: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Search embeds the query and returns the best-matching chunks in descending
// score order. An empty result is not an error; callers branch on it.
func (r *Retriever) Search(ctx context.Context, query string) ([]Scored, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one input", len(vectors))
	}
	queryVector := vectors[0]

	records, err := r.store.Query(ctx, state.Query{Kind: state.KindChunk, Prefix: chunkPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	scored := make([]Scored, 0, len(records))
	for _, record := range records {
		var chunk Chunk
		if err := json.Unmarshal(record.Data, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode chunk %q: %w", record.Key, err)
		}
		score := Cosine(queryVector, chunk.Embedding)
		if score < r.minScore {
			continue
		}
		scored = append(scored, Scored{Chunk: chunk, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored, nil
}

// Index embeds the texts and persists them as chunks of the given source.
func (r *Retriever) Index(ctx context.Context, sourceID string, texts []string) ([]Chunk, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(texts))
	}

	now := time.Now().UTC()
	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		chunk := Chunk{
			ID:        fmt.Sprintf("%s/%04d", sourceID, i),
			SourceID:  sourceID,
			Position:  i,
			Text:      text,
			Embedding: vectors[i],
			CreatedAt: now,
		}
		if err := state.PutJSON(ctx, r.store, state.KindChunk, chunk.Key(), chunk); err != nil {
			return nil, fmt.Errorf("failed to persist chunk %q: %w", chunk.ID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
