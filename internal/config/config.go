// Package config provides configuration loading for inboxmind.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. All tenant scoping, thresholds, and filters consumed by a
// pipeline run are copied out of this package into an immutable per-run
// request at run start; nothing reads process-wide configuration mid-run.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete inboxmind configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	LLM           LLMConfig           `koanf:"llm"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Compliance    ComplianceConfig    `koanf:"compliance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// EmbeddingConfig holds the embedding collaborator configuration.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`

	// Dimensions is the embedding vector size. Must match the vector
	// store collection dimensionality.
	Dimensions int `koanf:"dimensions"`
}

// VectorStoreConfig holds Qdrant gRPC client configuration.
type VectorStoreConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	CollectionName string   `koanf:"collection_name"`
	UseTLS         bool     `koanf:"use_tls"`
	MaxRetries     int      `koanf:"max_retries"`
	RetryBackoff   Duration `koanf:"retry_backoff"`
}

// LLMConfig holds the language-generation collaborator configuration.
type LLMConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	MaxTokens  int      `koanf:"max_tokens"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// PipelineConfig holds per-run pipeline parameters.
//
// These are defaults; a caller-supplied QueryRequest may narrow TopK and
// raise RelevanceThreshold but the values are frozen into the request
// before the run starts.
type PipelineConfig struct {
	TopK               int      `koanf:"top_k"`
	RelevanceThreshold float64  `koanf:"relevance_threshold"`
	GroundingThreshold float64  `koanf:"grounding_threshold"`
	DedupCutoff        float64  `koanf:"dedup_cutoff"`
	StageTimeout       Duration `koanf:"stage_timeout"`
}

// ComplianceConfig controls the sensitive-data filter.
type ComplianceConfig struct {
	// Redaction enables span replacement; when false every redact-action
	// category downgrades to flag.
	Redaction bool `koanf:"redaction"`

	// BlockCategories lists finding categories that veto synthesis.
	BlockCategories []string `koanf:"block_categories"`
}

// Default returns a configuration with production-ready defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: true,
			ServiceName:     "inboxmind",
			OTLPEndpoint:    "localhost:4317",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		VectorStore: VectorStoreConfig{
			Host:           "localhost",
			Port:           6334,
			CollectionName: "email_chunks",
			MaxRetries:     3,
			RetryBackoff:   Duration(time.Second),
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "gpt-4o-mini",
			MaxTokens:  1024,
			Timeout:    Duration(60 * time.Second),
			MaxRetries: 3,
		},
		Pipeline: PipelineConfig{
			TopK:               20,
			RelevanceThreshold: 0.7,
			GroundingThreshold: 0.5,
			DedupCutoff:        0.8,
			StageTimeout:       Duration(30 * time.Second),
		},
		Compliance: ComplianceConfig{
			Redaction:       true,
			BlockCategories: []string{"privileged"},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.VectorStore.Host == "" {
		return errors.New("vectorstore host required")
	}
	if c.VectorStore.Port < 1 || c.VectorStore.Port > 65535 {
		return fmt.Errorf("invalid vectorstore port: %d", c.VectorStore.Port)
	}
	if c.VectorStore.CollectionName == "" {
		return errors.New("vectorstore collection name required")
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Pipeline.TopK)
	}
	if c.Pipeline.RelevanceThreshold < 0 || c.Pipeline.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance_threshold must be in [0,1], got %g", c.Pipeline.RelevanceThreshold)
	}
	if c.Pipeline.GroundingThreshold < 0 || c.Pipeline.GroundingThreshold > 1 {
		return fmt.Errorf("grounding_threshold must be in [0,1], got %g", c.Pipeline.GroundingThreshold)
	}
	if c.Pipeline.DedupCutoff < 0 || c.Pipeline.DedupCutoff > 1 {
		return fmt.Errorf("dedup_cutoff must be in [0,1], got %g", c.Pipeline.DedupCutoff)
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		return errors.New("stage timeout must be positive")
	}
	return nil
}
