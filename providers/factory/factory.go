// Package factory builds provider clients from capability descriptors. API
// keys come from the environment; vendor-specific options stay here so the
// rest of the engine never touches them.
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/notesmith-ai/notesmith/llm"
	"github.com/notesmith-ai/notesmith/model"
	anthropicprov "github.com/notesmith-ai/notesmith/providers/anthropic"
	geminiprov "github.com/notesmith-ai/notesmith/providers/gemini"
	localprov "github.com/notesmith-ai/notesmith/providers/local"
	ollamaprov "github.com/notesmith-ai/notesmith/providers/ollama"
	openaiprov "github.com/notesmith-ai/notesmith/providers/openai"
)

// New returns a provider factory for the model provisioner. The context is
// only used while constructing clients that dial during setup.
func New(ctx context.Context) model.ProviderFactory {
	return func(capability model.Capability) (llm.Provider, error) {
		return Provider(ctx, capability)
	}
}

// Provider builds a generation client for the capability's vendor.
func Provider(ctx context.Context, capability model.Capability) (llm.Provider, error) {
	vendor := strings.ToLower(capability.Vendor())
	switch vendor {
	case "openai":
		key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %q", capability.ProviderID)
		}
		opts := []openaiprov.Option{openaiprov.WithModel(capability.Model())}
		if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(baseURL))
		}
		return openaiprov.New(key, opts...)

	case "anthropic":
		key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", capability.ProviderID)
		}
		opts := []anthropicprov.Option{anthropicprov.WithModel(capability.Model())}
		if baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); baseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(baseURL))
		}
		return anthropicprov.New(key, opts...)

	case "gemini":
		key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for provider %q", capability.ProviderID)
		}
		return geminiprov.New(ctx, key, geminiprov.WithModel(capability.Model()))

	case "ollama":
		opts := []ollamaprov.Option{ollamaprov.WithModel(capability.Model())}
		if baseURL := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); baseURL != "" {
			opts = append(opts, ollamaprov.WithBaseURL(baseURL))
		}
		if key := strings.TrimSpace(os.Getenv("OLLAMA_API_KEY")); key != "" {
			opts = append(opts, ollamaprov.WithAPIKey(key))
		}
		return ollamaprov.New(opts...)
	}

	return nil, fmt.Errorf("unsupported provider vendor %q (use openai, anthropic, gemini, or ollama)", vendor)
}

// Embedder builds an embedding client. The local embedder needs no
// credentials and is the default for single-process deployments.
func Embedder(vendor, embedModel string) (llm.Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case "", "local":
		return localprov.NewEmbedder(), nil

	case "openai":
		key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedder")
		}
		opts := []openaiprov.Option{}
		if embedModel != "" {
			opts = append(opts, openaiprov.WithEmbedModel(embedModel))
		}
		if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(baseURL))
		}
		return openaiprov.New(key, opts...)

	case "ollama":
		opts := []ollamaprov.Option{}
		if embedModel != "" {
			opts = append(opts, ollamaprov.WithEmbedModel(embedModel))
		}
		if baseURL := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); baseURL != "" {
			opts = append(opts, ollamaprov.WithBaseURL(baseURL))
		}
		return ollamaprov.New(opts...)
	}

	return nil, fmt.Errorf("unsupported embedder vendor %q (use local, openai, or ollama)", vendor)
}
