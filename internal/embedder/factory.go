package embedder

import (
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Dimension int
	CacheSize int
}

// New creates an embedder with explicit configuration. The "none" provider
// returns ErrNoProviderEnabled; callers then run without semantic search.
// Externally provided functions are wrapped with NewFuncEmbedder instead.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, ErrNoProviderEnabled
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}
