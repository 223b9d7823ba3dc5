// Package llm defines the provider boundary. Everything above this package
// speaks types.Request/types.Response; everything below is vendor protocol.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/notesmith-ai/notesmith/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Provider interface {
	Name() string
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}

// Embedder turns text into vectors. Kept separate from Provider because most
// chat backends do not expose embeddings and most embedding backends do not
// chat.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// InvocationError marks a failure of the external provider call itself
// (network, rate limit, auth) as opposed to a logic error in the engine.
// Callers detect it with errors.As and may re-resolve against the
// next-priority provider.
type InvocationError struct {
	Provider string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("provider %q invocation failed: %v", e.Provider, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Invocation wraps err as an InvocationError unless it already is one.
func Invocation(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InvocationError
	if errors.As(err, &ie) {
		return err
	}
	return &InvocationError{Provider: provider, Err: err}
}
