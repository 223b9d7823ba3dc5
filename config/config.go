// Package config loads the engine configuration: the model directory plus
// store, queue, worker, and retrieval settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/notesmith-ai/notesmith/model"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Models    []model.Capability `yaml:"models"`
	Store     StoreConfig        `yaml:"store"`
	Queue     QueueConfig        `yaml:"queue"`
	Worker    WorkerConfig       `yaml:"worker"`
	Retrieval RetrievalConfig    `yaml:"retrieval"`
	Embedder  EmbedderConfig     `yaml:"embedder"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type QueueConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type WorkerConfig struct {
	Consumer string `yaml:"consumer"`
	PoolSize int    `yaml:"pool_size"`
}

type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`
	MinScore     float64 `yaml:"min_score"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
}

type EmbedderConfig struct {
	Vendor string `yaml:"vendor"`
	Model  string `yaml:"model"`
}

// Default is the zero-dependency single-process configuration: everything in
// memory, one local model behind Ollama, the local embedder.
func Default() Config {
	cfg := Config{
		Models: []model.Capability{
			{
				ProviderID:       "ollama/llama3.1:8b",
				Modalities:       []model.Modality{model.ModalityText},
				MaxContextTokens: 8192,
				Priority:         1,
			},
		},
	}
	cfg.normalize()
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q as YAML: %w", absPath, err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", absPath, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendMemory
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Queue.Redis.Addr == "" {
		c.Queue.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "notesmith"
	}
	if c.Queue.Redis.Prefix == "" {
		c.Queue.Redis.Prefix = "notesmith"
	}
	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = 4
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.ChunkSize <= 0 {
		c.Retrieval.ChunkSize = 200
	}
	if c.Retrieval.ChunkOverlap <= 0 {
		c.Retrieval.ChunkOverlap = 20
	}
	if c.Embedder.Vendor == "" {
		c.Embedder.Vendor = "local"
	}
}

func (c Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store backend %q requires a path", BackendSQLite)
		}
	default:
		return fmt.Errorf("unknown store backend %q (use %s, %s, or %s)",
			c.Store.Backend, BackendMemory, BackendSQLite, BackendRedis)
	}
	switch c.Queue.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown queue backend %q (use %s or %s)",
			c.Queue.Backend, BackendMemory, BackendRedis)
	}
	return nil
}

// Registry builds the model directory from the configured capabilities.
func (c Config) Registry() (*model.Registry, error) {
	return model.NewRegistry(c.Models)
}
