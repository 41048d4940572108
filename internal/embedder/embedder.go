package embedder

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/nexus/pkg/types"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

const (
	ProviderNone  = "none"
	ProviderLocal = "local"
	ProviderFunc  = "func"

	// MaxBatchSize bounds the texts of one GenerateBatch call
	MaxBatchSize = 100

	// DefaultCacheSize is used when a cache is created with a non-positive size
	DefaultCacheSize = 10000
)

// ProviderError describes a failed call to the vectorization function. It
// matches types.ErrEmbeddingProvider with errors.Is.
type ProviderError struct {
	Provider  string
	Op        string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s: %v", e.Provider, e.Op, e.Cause)
}

// Unwrap exposes both the taxonomy sentinel and the cause
func (e *ProviderError) Unwrap() []error {
	return []error{types.ErrEmbeddingProvider, e.Cause}
}

// IsRetryable reports whether err is a ProviderError marked retryable
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// Embedding is one vector and the provider that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
}

type EmbeddingRequest struct {
	Text string
}

// Validate rejects empty text
func (r EmbeddingRequest) Validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	return nil
}

type BatchEmbeddingRequest struct {
	Texts []string
}

// Validate rejects empty batches, batches over MaxBatchSize and empty texts
func (r BatchEmbeddingRequest) Validate() error {
	switch {
	case len(r.Texts) == 0:
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	case len(r.Texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(r.Texts), MaxBatchSize)
	}
	for i, text := range r.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrEmptyText, i)
		}
	}
	return nil
}

// BatchEmbeddingResponse holds one embedding per requested text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
}

// Embedder is the vectorization contract used by the indexer and searcher
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds every text of req, in order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the vector length, or 0 when any length is accepted
	Dimension() int
	Provider() string
	Close() error
}

// Cache is an LRU of vectors keyed by provider and text digest. Vectors
// are copied in and out, so callers may modify what they get.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache creates a cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		panic(fmt.Sprintf("embedder: lru cache of size %d: %v", size, err))
	}
	return &Cache{lru: c}
}

func cacheKey(provider, text string) string {
	return provider + ":" + ComputeHash(text)
}

// Get returns a copy of the vector cached for text
func (c *Cache) Get(provider, text string) ([]float32, bool) {
	v, ok := c.lru.Get(cacheKey(provider, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Put caches a copy of vec for text
func (c *Cache) Put(provider, text string, vec []float32) {
	c.lru.Add(cacheKey(provider, text), append([]float32(nil), vec...))
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

// ComputeHash is the xxhash64 of text as 16 hex characters
func ComputeHash(text string) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxhash.Sum64String(text))
	return hex.EncodeToString(b[:])
}
