package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/notesmith-ai/notesmith/llm"
	"github.com/notesmith-ai/notesmith/types"
)

// ErrNoCapableProvider is returned when no configured backend satisfies a
// selection request, even after relaxing to the largest-context candidate.
var ErrNoCapableProvider = errors.New("model: no capable provider")

// SelectionRequest is a single-call description of what kind of backend a
// step needs. Override names a specific provider id for this call only; it
// never mutates process-wide configuration.
type SelectionRequest struct {
	TaskKind        string
	Modality        Modality
	EstimatedTokens int
	Override        string
	// Exclude removes providers from automatic selection. Steps use it for
	// the single bounded fallback after an invocation failure.
	Exclude []string
}

// ProviderFactory builds a ready-to-call client for a resolved capability.
type ProviderFactory func(cap Capability) (llm.Provider, error)

// Handle binds one resolved capability to its client for one invocation.
type Handle struct {
	Capability Capability
	provider   llm.Provider
}

func (h Handle) ProviderID() string { return h.Capability.ProviderID }

// Generate invokes the bound provider. Transport and vendor failures come
// back as *llm.InvocationError so callers can tell them apart from logic
// errors.
func (h Handle) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	if h.provider == nil {
		return types.Response{}, fmt.Errorf("model handle is not bound to a provider")
	}
	if req.Model == "" {
		req.Model = h.Capability.Model()
	}
	resp, err := h.provider.Generate(ctx, req)
	if err != nil {
		return types.Response{}, llm.Invocation(h.Capability.ProviderID, err)
	}
	return resp, nil
}

// Provisioner resolves selection requests against the registry. It is
// stateless given the registry, so one instance serves all runs.
type Provisioner struct {
	registry *Registry
	factory  ProviderFactory
}

func NewProvisioner(registry *Registry, factory ProviderFactory) (*Provisioner, error) {
	if registry == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}
	return &Provisioner{registry: registry, factory: factory}, nil
}

// Resolve picks a backend for the request and returns an invocable handle.
//
// Override policy: an override that exists and satisfies the modality is
// honored verbatim, unless the estimated tokens exceed its context window,
// in which case selection auto-upgrades through the automatic path. An
// override naming an unknown provider or one that cannot serve the modality
// fails closed with ErrNoCapableProvider rather than silently substituting.
func (p *Provisioner) Resolve(req SelectionRequest) (Handle, error) {
	if p == nil || p.registry == nil {
		return Handle{}, fmt.Errorf("provisioner is not initialized")
	}
	if req.Modality == "" {
		req.Modality = ModalityText
	}

	if override := strings.TrimSpace(req.Override); override != "" {
		c, ok := p.registry.Lookup(override)
		if !ok {
			return Handle{}, fmt.Errorf("override %q is not in the model directory: %w", override, ErrNoCapableProvider)
		}
		if !c.Supports(req.Modality) {
			return Handle{}, fmt.Errorf("override %q does not support modality %q: %w", override, req.Modality, ErrNoCapableProvider)
		}
		if req.EstimatedTokens <= c.MaxContextTokens {
			return p.bind(c)
		}
		// Auto-upgrade: the override cannot hold the prompt, fall through to
		// automatic selection.
	}

	c, err := p.selectAutomatic(req)
	if err != nil {
		return Handle{}, err
	}
	return p.bind(c)
}

func (p *Provisioner) selectAutomatic(req SelectionRequest) (Capability, error) {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[strings.TrimSpace(id)] = true
	}
	for _, c := range p.registry.ordered {
		if excluded[c.ProviderID] {
			continue
		}
		if !c.Supports(req.Modality) {
			continue
		}
		if c.MaxContextTokens < req.EstimatedTokens {
			continue
		}
		return c, nil
	}
	return Capability{}, fmt.Errorf(
		"no provider supports modality %q with %d tokens (task %q): %w",
		req.Modality, req.EstimatedTokens, req.TaskKind, ErrNoCapableProvider,
	)
}

func (p *Provisioner) bind(c Capability) (Handle, error) {
	provider, err := p.factory(c)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to build provider %q: %w", c.ProviderID, err)
	}
	return Handle{Capability: c, provider: provider}, nil
}
