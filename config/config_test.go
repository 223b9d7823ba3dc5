package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notesmith.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
models:
  - provider: openai/gpt-4o-mini
    modalities: [text]
    max_context_tokens: 128000
    priority: 1
  - provider: ollama/llama3.1:8b
    modalities: [text]
    max_context_tokens: 8192
    priority: 2
store:
  backend: sqlite
  path: ./notesmith.db
queue:
  backend: redis
  redis:
    addr: 10.0.0.5:6379
    prefix: jobs
worker:
  pool_size: 8
retrieval:
  top_k: 3
  min_score: 0.25
embedder:
  vendor: ollama
  model: nomic-embed-text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("unexpected models: %#v", cfg.Models)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.Path != "./notesmith.db" {
		t.Fatalf("unexpected store config: %#v", cfg.Store)
	}
	if cfg.Queue.Backend != BackendRedis || cfg.Queue.Redis.Addr != "10.0.0.5:6379" {
		t.Fatalf("unexpected queue config: %#v", cfg.Queue)
	}
	if cfg.Queue.Redis.Prefix != "jobs" {
		t.Fatalf("unexpected queue prefix: %q", cfg.Queue.Redis.Prefix)
	}
	if cfg.Worker.PoolSize != 8 {
		t.Fatalf("unexpected worker pool size: %d", cfg.Worker.PoolSize)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.MinScore != 0.25 {
		t.Fatalf("unexpected retrieval config: %#v", cfg.Retrieval)
	}
	if cfg.Embedder.Vendor != "ollama" {
		t.Fatalf("unexpected embedder: %#v", cfg.Embedder)
	}

	registry, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("unexpected registry size %d", registry.Len())
	}
}

func TestLoad_DefaultsFillIn(t *testing.T) {
	path := writeConfig(t, `
models:
  - provider: ollama/llama3.1:8b
    modalities: [text]
    max_context_tokens: 8192
    priority: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Queue.Backend != BackendMemory {
		t.Fatalf("expected memory defaults: %#v %#v", cfg.Store, cfg.Queue)
	}
	if cfg.Worker.PoolSize != 4 || cfg.Retrieval.TopK != 5 {
		t.Fatalf("expected worker/retrieval defaults: %#v %#v", cfg.Worker, cfg.Retrieval)
	}
	if cfg.Embedder.Vendor != "local" {
		t.Fatalf("expected local embedder default, got %q", cfg.Embedder.Vendor)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no models",
			content: `store: {backend: memory}`,
			wantErr: "at least one model",
		},
		{
			name: "sqlite without path",
			content: `
models:
  - {provider: ollama/llama3.1:8b, modalities: [text], max_context_tokens: 8192}
store:
  backend: sqlite
`,
			wantErr: "requires a path",
		},
		{
			name: "unknown store backend",
			content: `
models:
  - {provider: ollama/llama3.1:8b, modalities: [text], max_context_tokens: 8192}
store:
  backend: dynamo
`,
			wantErr: "unknown store backend",
		},
		{
			name: "unknown queue backend",
			content: `
models:
  - {provider: ollama/llama3.1:8b, modalities: [text], max_context_tokens: 8192}
queue:
  backend: kafka
`,
			wantErr: "unknown queue backend",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "ghost.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if _, err := cfg.Registry(); err != nil {
		t.Fatalf("default registry failed: %v", err)
	}
}
