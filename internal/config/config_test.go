package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name:    "zero dimensions",
			mutate:  func(c *Config) { c.Embedding.Dimensions = 0 },
			wantErr: "embedding dimensions",
		},
		{
			name:    "missing collection",
			mutate:  func(c *Config) { c.VectorStore.CollectionName = "" },
			wantErr: "collection name",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Pipeline.RelevanceThreshold = 1.5 },
			wantErr: "relevance_threshold",
		},
		{
			name:    "negative grounding threshold",
			mutate:  func(c *Config) { c.Pipeline.GroundingThreshold = -0.1 },
			wantErr: "grounding_threshold",
		},
		{
			name:    "zero top_k",
			mutate:  func(c *Config) { c.Pipeline.TopK = 0 },
			wantErr: "top_k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8081
pipeline:
  top_k: 5
  relevance_threshold: 0.5
  stage_timeout: 15s
vectorstore:
  collection_name: test_chunks
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 0.5, cfg.Pipeline.RelevanceThreshold)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, "test_chunks", cfg.VectorStore.CollectionName)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.5, cfg.Pipeline.GroundingThreshold)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline.TopK, cfg.Pipeline.TopK)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("INBOXMIND_SERVER_PORT", "7070")
	t.Setenv("INBOXMIND_PIPELINE_TOP_K", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pipeline.TopK)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("INBOXMIND_SERVER_PORT"))
	assert.Equal(t, "pipeline.top_k", envTransform("INBOXMIND_PIPELINE_TOP_K"))
	assert.Equal(t, "vectorstore.collection_name", envTransform("INBOXMIND_VECTORSTORE_COLLECTION_NAME"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "very-secret")
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
