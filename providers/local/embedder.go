// Package local provides a deterministic in-process embedder. It hashes
// tokens into a fixed-size vector, which is enough for tests and for
// deployments that want retrieval without an external embedding service.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultDimensions = 256

type Embedder struct {
	dimensions int
}

type EmbedderOption func(*Embedder)

func WithDimensions(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.dimensions = n
		}
	}
}

func NewEmbedder(opts ...EmbedderOption) *Embedder {
	e := &Embedder{dimensions: defaultDimensions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) Name() string { return "local" }

// Embed maps each text to a unit vector. Identical texts always produce
// identical vectors, and texts sharing tokens land closer together.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	_ = ctx
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *Embedder) embedOne(text string) []float32 {
	vector := make([]float32, e.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		slot := int(sum % uint32(e.dimensions))
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vector[slot] += sign
	}
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
