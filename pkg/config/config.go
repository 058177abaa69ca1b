// Package config defines the configuration model for DocBrain.
//
// Configuration is YAML with ${VAR} and ${VAR:-default} expansion. Every
// section implements SetDefaults() and Validate(); the zero config is usable
// for local development (embedded chromem vectors, sqlite metadata store)
// as long as an LLM provider API key is present in the environment.
package config

import (
	"fmt"
)

// ============================================================================
// ROOT CONFIG
// ============================================================================

// Config is the root configuration.
//
// Example YAML:
//
//	server:
//	  port: 8080
//	database:
//	  driver: sqlite
//	  dsn: docbrain.db
//	vector_store:
//	  provider: chromem
//	embedder:
//	  provider: openai
//	  api_key: ${OPENAI_API_KEY}
//	llm:
//	  default: main
//	  providers:
//	    main:
//	      provider: anthropic
//	      api_key: ${ANTHROPIC_API_KEY}
type Config struct {
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Auth          AuthConfig          `yaml:"auth,omitempty" json:"auth,omitempty"`
	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty"`
	Database      DatabaseConfig      `yaml:"database,omitempty" json:"database,omitempty"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store,omitempty" json:"vector_store,omitempty"`
	Embedder      EmbedderConfig      `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty" json:"llm,omitempty"`
	Reranker      RerankerConfig      `yaml:"reranker,omitempty" json:"reranker,omitempty"`
	Extraction    ExtractionConfig    `yaml:"extraction,omitempty" json:"extraction,omitempty"`
	Chunking      ChunkingConfig      `yaml:"chunking,omitempty" json:"chunking,omitempty"`
	Ingestion     IngestionConfig     `yaml:"ingestion,omitempty" json:"ingestion,omitempty"`
	Query         QueryConfig         `yaml:"query,omitempty" json:"query,omitempty"`
	Jobs          JobsConfig          `yaml:"jobs,omitempty" json:"jobs,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
	Prompts       PromptsConfig       `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Reranker.SetDefaults()
	c.Extraction.SetDefaults()
	c.Chunking.SetDefaults()
	c.Ingestion.SetDefaults()
	c.Query.SetDefaults()
	c.Jobs.SetDefaults()
	c.Observability.SetDefaults()
	c.Prompts.SetDefaults()
}

// Validate checks every section for errors.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"auth", &c.Auth},
		{"logger", &c.Logger},
		{"database", &c.Database},
		{"vector_store", &c.VectorStore},
		{"embedder", &c.Embedder},
		{"llm", &c.LLM},
		{"reranker", &c.Reranker},
		{"extraction", &c.Extraction},
		{"chunking", &c.Chunking},
		{"ingestion", &c.Ingestion},
		{"query", &c.Query},
		{"jobs", &c.Jobs},
		{"observability", &c.Observability},
		{"prompts", &c.Prompts},
	}

	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	return nil
}

// Default returns a Config with all defaults applied.
// Used by commands that run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
