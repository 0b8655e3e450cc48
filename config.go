package strata

import (
	"fmt"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/okkerlund/strata/llm"
)

// Config holds all configuration for the strata engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.strata/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "strata".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.strata/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Extraction is the primary chat provider; Fallback is
	// tried when Extraction fails. Embedding may be empty to skip entity
	// embeddings entirely.
	Extraction llm.Config `json:"extraction" yaml:"extraction"`
	Fallback   llm.Config `json:"fallback" yaml:"fallback"`
	Embedding  llm.Config `json:"embedding" yaml:"embedding"`

	// Section detection.
	MinSections   int `json:"min_sections" yaml:"min_sections"`
	MaxGroupPages int `json:"max_group_pages" yaml:"max_group_pages"`

	// Chunking (word counts).
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`

	// Extraction coordination.
	Workers      int     `json:"workers" yaml:"workers"`
	MaxRetries   int     `json:"max_retries" yaml:"max_retries"`
	RateLimit    float64 `json:"rate_limit" yaml:"rate_limit"` // extraction calls per second, 0 = unlimited
	ChunkTimeout int     `json:"chunk_timeout_seconds" yaml:"chunk_timeout_seconds"`

	// Section graph weights.
	ReferenceWeight   float64 `json:"reference_weight" yaml:"reference_weight"`
	SharedEntityBase  float64 `json:"shared_entity_base" yaml:"shared_entity_base"`
	SharedEntityCap   int     `json:"shared_entity_cap" yaml:"shared_entity_cap"`
	MinSharedEntities int     `json:"min_shared_entities" yaml:"min_shared_entities"`
	SmallGraphNodes   int     `json:"small_graph_nodes" yaml:"small_graph_nodes"`

	// StrictCompletion makes an indexing run fail with
	// ErrExtractionIncomplete when any chunk exhausts its retry budget.
	// Off by default: a graph missing a few chunks is worth more than no
	// graph, and Status reports the gap either way.
	StrictCompletion bool `json:"strict_completion" yaml:"strict_completion"`

	// Embedding dimensions (must match the embedding model).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// DefaultConfig returns a Config with sensible defaults. The database is
// stored in ~/.strata/strata.db; extraction uses OpenAI with a Groq
// fallback, both keyed from the environment.
func DefaultConfig() Config {
	return Config{
		DBName:     "strata",
		StorageDir: "home",
		Extraction: llm.Config{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
		},
		Fallback: llm.Config{
			Provider: "groq",
			Model:    "llama-3.3-70b-versatile",
			APIKey:   os.Getenv("GROQ_API_KEY"),
		},
		Embedding: llm.Config{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
		},
		MinSections:       6,
		MaxGroupPages:     4,
		ChunkSize:         600,
		ChunkOverlap:      100,
		MaxChunkSize:      800,
		Workers:           4,
		MaxRetries:        3,
		RateLimit:         2,
		ChunkTimeout:      90,
		ReferenceWeight:   3.0,
		SharedEntityBase:  1.0,
		SharedEntityCap:   3,
		MinSharedEntities: 1,
		SmallGraphNodes:   15,
		EmbeddingDim:      1536,
	}
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing mid-pipeline failures.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.ChunkSize, validation.Min(50)),
		validation.Field(&c.ChunkOverlap, validation.Min(0)),
		validation.Field(&c.MaxChunkSize, validation.Min(c.ChunkSize)),
		validation.Field(&c.MinSections, validation.Min(1)),
		validation.Field(&c.Workers, validation.Min(1)),
		validation.Field(&c.MaxRetries, validation.Min(1)),
		validation.Field(&c.EmbeddingDim, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "strata"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".strata", name+".db")
	}
}
