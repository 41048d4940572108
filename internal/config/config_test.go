package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	assert.Equal(t, filepath.Join(home, ".nexus"), cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 50, cfg.Index.BatchSize)
	assert.Equal(t, int64(1<<20), cfg.Index.MaxFileSize)
	assert.Equal(t, 80, cfg.Index.ChunkLines)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 10000, cfg.Watch.MaxQueue)
	assert.Equal(t, []string{".gitignore", ".nexusignore"}, cfg.IgnoreFiles())
	assert.InDelta(t, 0.7, cfg.Search.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Search.SmartSemanticWeight, 1e-9)
	assert.InDelta(t, 0.4, cfg.Search.SmartKeywordWeight, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Search.EmbeddingTimeout)
	assert.Equal(t, 1000, cfg.Search.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 256, cfg.Embedding.Dimension)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "nexus.yaml", `
data_dir: /var/lib/nexus
watch:
  debounce: 1s
  patterns:
    - "*.gen.go"
search:
  keyword_weight: 0.5
`)
	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nexus", cfg.DataDir)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"*.gen.go"}, cfg.Watch.Patterns)
	assert.InDelta(t, 0.5, cfg.Search.KeywordWeight, 1e-9)
	// Untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Index.BatchSize)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "nexus.json", `{"data_dir": "/tmp/nx", "index": {"batch_size": 7}, "embedding": {"provider": "none"}}`)
	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Index.BatchSize)
	assert.Equal(t, "none", cfg.Embedding.Provider)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "nexus.toml", `data_dir = "/tmp"`)
	_, err := Load(LoadOptions{ConfigFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("NEXUS_DATA_DIR", "/srv/nexus")
	t.Setenv("NEXUS_WATCH__DEBOUNCE", "250ms")
	t.Setenv("NEXUS_INDEX__BATCH_SIZE", "10")
	t.Setenv("NEXUS_LOG__PRETTY", "true")
	t.Setenv("NEXUS_WATCH__PATTERNS", "*.tmp,*.bak")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/srv/nexus", cfg.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 10, cfg.Index.BatchSize)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, []string{"*.tmp", "*.bak"}, cfg.Watch.Patterns)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "NEXUS_LOG__LEVEL=debug\nNEXUS_INDEX__WORKERS=3\nNEXUS_WATCH__PATTERNS=gen/, *.pb.go\nUNRELATED=1\n")
	t.Setenv("NEXUS_INDEX__WORKERS", "5")

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Index.Workers, "process environment wins over the env file")
	assert.Equal(t, []string{"gen/", "*.pb.go"}, cfg.Watch.Patterns)

	// A missing env file is not an error
	_, err = Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), ".env")})
	require.NoError(t, err)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "nexus.yaml", "search:\n  min_score: 0.1\n")
	t.Setenv("NEXUS_SEARCH__MIN_SCORE", "0.2")

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, cfg.Search.MinScore, 1e-9)

	cfg, err = Load(LoadOptions{
		ConfigFile: path,
		Overrides:  map[string]any{"search.min_score": 0.3, "data_dir": "/override"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.Search.MinScore, 1e-9)
	assert.Equal(t, "/override", cfg.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Index.BatchSize = 0 }, "index.batch_size"},
		{"negative weight", func(c *Config) { c.Search.KeywordWeight = -0.1 }, "search.keyword_weight"},
		{"negative smart weight", func(c *Config) { c.Search.SmartSemanticWeight = -1 }, "search.smart_semantic_weight"},
		{"debounce", func(c *Config) { c.Watch.Debounce = 0 }, "watch.debounce"},
		{"provider", func(c *Config) { c.Embedding.Provider = "remote" }, "embedding.provider"},
		{"queue", func(c *Config) { c.Watch.MaxQueue = -1 }, "watch.max_queue"},
		{"min score", func(c *Config) { c.Search.MinScore = 1.5 }, "search.min_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReportsInvalidValues(t *testing.T) {
	t.Setenv("NEXUS_EMBEDDING__PROVIDER", "openai")
	_, err := Load(LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.provider")
}
