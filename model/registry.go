// Package model holds the capability directory of configured AI backends and
// the provisioner that resolves a logical request into a concrete handle.
package model

import (
	"fmt"
	"sort"
	"strings"
)

type Modality string

const (
	ModalityText      Modality = "text"
	ModalityEmbedding Modality = "embedding"
	ModalityVision    Modality = "vision"
)

// Capability describes one configured backend. The ProviderID is
// "vendor/model", e.g. "openai/gpt-4o-mini" or "ollama/llama3.1:8b".
type Capability struct {
	ProviderID       string     `yaml:"provider" json:"provider"`
	Modalities       []Modality `yaml:"modalities" json:"modalities"`
	MaxContextTokens int        `yaml:"max_context_tokens" json:"maxContextTokens"`
	Priority         int        `yaml:"priority" json:"priority"`
	CostTier         string     `yaml:"cost_tier,omitempty" json:"costTier,omitempty"`
}

func (c Capability) Vendor() string {
	vendor, _, _ := strings.Cut(c.ProviderID, "/")
	return vendor
}

func (c Capability) Model() string {
	_, model, ok := strings.Cut(c.ProviderID, "/")
	if !ok {
		return c.ProviderID
	}
	return model
}

func (c Capability) Supports(m Modality) bool {
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// Registry is the process-wide directory of capabilities. It is built once
// at startup and never mutated, so readers need no locking.
type Registry struct {
	ordered []Capability
	byID    map[string]Capability
}

// NewRegistry validates and indexes the given capabilities. The ordered view
// is sorted by priority ascending with provider id as tiebreak, which makes
// automatic selection deterministic.
func NewRegistry(caps []Capability) (*Registry, error) {
	if len(caps) == 0 {
		return nil, fmt.Errorf("model registry requires at least one capability")
	}
	byID := make(map[string]Capability, len(caps))
	ordered := make([]Capability, 0, len(caps))
	for _, c := range caps {
		c.ProviderID = strings.TrimSpace(c.ProviderID)
		if c.ProviderID == "" {
			return nil, fmt.Errorf("capability provider id is required")
		}
		if _, exists := byID[c.ProviderID]; exists {
			return nil, fmt.Errorf("duplicate capability %q", c.ProviderID)
		}
		if len(c.Modalities) == 0 {
			return nil, fmt.Errorf("capability %q declares no modalities", c.ProviderID)
		}
		if c.MaxContextTokens <= 0 {
			return nil, fmt.Errorf("capability %q has invalid max_context_tokens %d", c.ProviderID, c.MaxContextTokens)
		}
		byID[c.ProviderID] = c
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ProviderID < ordered[j].ProviderID
	})
	return &Registry{ordered: ordered, byID: byID}, nil
}

func (r *Registry) Lookup(providerID string) (Capability, bool) {
	if r == nil {
		return Capability{}, false
	}
	c, ok := r.byID[strings.TrimSpace(providerID)]
	return c, ok
}

// All returns the capabilities in selection order. The slice is a copy.
func (r *Registry) All() []Capability {
	if r == nil {
		return nil
	}
	out := make([]Capability, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}
