package pipelines

import (
	"context"
	"errors"

	"github.com/notesmith-ai/notesmith/llm"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/types"
)

// generateWithFallback resolves a backend and invokes it. When the call
// itself fails (network, rate limit, auth), it re-resolves exactly once with
// the failed provider excluded and retries. Logic errors and resolution
// failures are never retried.
func generateWithFallback(ctx context.Context, provisioner *model.Provisioner, sel model.SelectionRequest, req types.Request) (types.Response, string, error) {
	handle, err := provisioner.Resolve(sel)
	if err != nil {
		return types.Response{}, "", err
	}
	resp, err := handle.Generate(ctx, req)
	if err == nil {
		return resp, handle.ProviderID(), nil
	}
	var invErr *llm.InvocationError
	if !errors.As(err, &invErr) {
		return types.Response{}, "", err
	}

	sel.Override = ""
	sel.Exclude = append(sel.Exclude, handle.ProviderID())
	next, resolveErr := provisioner.Resolve(sel)
	if resolveErr != nil {
		// No fallback available; surface the original invocation failure.
		return types.Response{}, "", err
	}
	resp, retryErr := next.Generate(ctx, req)
	if retryErr != nil {
		return types.Response{}, "", retryErr
	}
	return resp, next.ProviderID(), nil
}
