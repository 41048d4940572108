package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override configuration keys.
// A double underscore separates nesting levels: NEXUS_WATCH__DEBOUNCE sets
// watch.debounce. List keys take comma-separated values.
const EnvPrefix = "NEXUS_"

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the full runtime configuration
type Config struct {
	DataDir   string          `koanf:"data_dir"`
	Log       LogConfig       `koanf:"log"`
	Index     IndexConfig     `koanf:"index"`
	Watch     WatchConfig     `koanf:"watch"`
	Search    SearchConfig    `koanf:"search"`
	Embedding EmbeddingConfig `koanf:"embedding"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type IndexConfig struct {
	BatchSize   int   `koanf:"batch_size"`
	MaxFileSize int64 `koanf:"max_file_size"`
	ChunkLines  int   `koanf:"chunk_lines"`
	Workers     int   `koanf:"workers"` // 0 means GOMAXPROCS
}

type WatchConfig struct {
	Debounce        time.Duration `koanf:"debounce"`
	MaxQueue        int           `koanf:"max_queue"`
	IgnoreFile      string        `koanf:"ignore_file"`
	LocalIgnoreFile string        `koanf:"local_ignore_file"`
	Patterns        []string      `koanf:"patterns"`
}

type SearchConfig struct {
	SemanticWeight      float64       `koanf:"semantic_weight"`
	KeywordWeight       float64       `koanf:"keyword_weight"`
	SmartSemanticWeight float64       `koanf:"smart_semantic_weight"`
	SmartKeywordWeight  float64       `koanf:"smart_keyword_weight"`
	MinScore            float64       `koanf:"min_score"`
	EmbeddingTimeout    time.Duration `koanf:"embedding_timeout"`
	CacheSize           int           `koanf:"cache_size"`
	CacheTTL            time.Duration `koanf:"cache_ttl"`
}

type EmbeddingConfig struct {
	Provider  string `koanf:"provider"` // none or local
	Dimension int    `koanf:"dimension"`
	CacheSize int    `koanf:"cache_size"`
}

// LoadOptions names the optional sources layered over the defaults
type LoadOptions struct {
	// ConfigFile is a YAML or JSON file, chosen by extension
	ConfigFile string

	// EnvFile is a dotenv file. Variables already set in the process
	// environment win over it.
	EnvFile string

	// Overrides are applied last, keyed by dotted path
	Overrides map[string]any
}

// Default returns the built-in configuration, ignoring the environment
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("invalid built-in config: %v", err))
	}
	cfg, err := decode(k)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in config: %v", err))
	}
	return cfg
}

// Load builds a Config from defaults, the config file, the dotenv file, the
// NEXUS_ environment and overrides, in that order, and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if opts.ConfigFile != "" {
		parser, err := parserFor(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(opts.ConfigFile), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.EnvFile != "" {
		values, err := dotenv(opts.EnvFile, envValue(k))
		if err != nil {
			return nil, err
		}
		if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue(k)), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	dir, err := expandHome(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir
	return &cfg, nil
}

// Validate rejects settings the components cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Index.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize))
	}
	if c.Index.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("index.max_file_size must be positive, got %d", c.Index.MaxFileSize))
	}
	if c.Index.ChunkLines <= 0 {
		errs = append(errs, fmt.Errorf("index.chunk_lines must be positive, got %d", c.Index.ChunkLines))
	}
	if c.Index.Workers < 0 {
		errs = append(errs, fmt.Errorf("index.workers must not be negative, got %d", c.Index.Workers))
	}
	if c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce))
	}
	if c.Watch.MaxQueue <= 0 {
		errs = append(errs, fmt.Errorf("watch.max_queue must be positive, got %d", c.Watch.MaxQueue))
	}

	weights := []struct {
		key   string
		value float64
	}{
		{"search.semantic_weight", c.Search.SemanticWeight},
		{"search.keyword_weight", c.Search.KeywordWeight},
		{"search.smart_semantic_weight", c.Search.SmartSemanticWeight},
		{"search.smart_keyword_weight", c.Search.SmartKeywordWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %g", w.key, w.value))
		}
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errs = append(errs, fmt.Errorf("search.min_score must be within [0,1], got %g", c.Search.MinScore))
	}
	if c.Search.EmbeddingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("search.embedding_timeout must be positive, got %s", c.Search.EmbeddingTimeout))
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "none", "local":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be none or local, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IgnoreFiles lists the configured ignore files, project file first
func (c *Config) IgnoreFiles() []string {
	var files []string
	for _, f := range []string{c.Watch.IgnoreFile, c.Watch.LocalIgnoreFile} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// envValue maps a NEXUS_ variable to its dotted key. Values of keys that
// hold lists are split on commas.
func envValue(k *koanf.Koanf) func(string, string) (string, interface{}) {
	return func(name, value string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
		if _, ok := k.Get(key).([]interface{}); !ok {
			return key, value
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return key, items
	}
}

// dotenv reads the NEXUS_ variables of a dotenv file. A missing file
// yields nothing.
func dotenv(path string, cb func(string, string) (string, interface{})) (map[string]interface{}, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	out := make(map[string]interface{})
	for name, value := range values {
		if !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key, v := cb(name, value)
		out[key] = v
	}
	return out, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
