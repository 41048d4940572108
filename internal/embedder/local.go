package embedder

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// LocalDimension is the default feature-hashing dimension
const LocalDimension = 256

var localTermPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// LocalProvider embeds text in-process by hashing identifier terms into a
// fixed number of signed buckets. No network, no model files; similar
// vocabularies give similar vectors.
type LocalProvider struct {
	dim   int
	cache *Cache
}

// NewLocalProvider creates a local embedder. A non-positive dimension uses
// LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dim: dimension, cache: cache}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		vec []float32
		ok  bool
	)
	if l.cache != nil {
		vec, ok = l.cache.Get(ProviderLocal, req.Text)
	}
	if !ok {
		vec = l.vectorize(req.Text)
		if l.cache != nil {
			l.cache.Put(ProviderLocal, req.Text, vec)
		}
	}
	return &Embedding{Vector: vec, Dimension: l.dim, Provider: ProviderLocal}, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, &ProviderError{Provider: ProviderLocal, Op: "batch", Cause: err}
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
	}, nil
}

// vectorize hashes each term into a signed bucket and normalizes
func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dim)
	for _, term := range Terms(text) {
		h := xxhash.Sum64String(term)
		idx := h % uint64(l.dim)
		if h>>63 == 1 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}
	return normalize(vector)
}

// normalize scales v to unit length in place; a zero vector is returned as is
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func (l *LocalProvider) Dimension() int {
	return l.dim
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Close() error {
	return nil
}

// Terms lowercases text into identifier terms. Compound identifiers
// (camelCase, snake_case) contribute the whole word and each part.
func Terms(text string) []string {
	var terms []string
	for _, word := range localTermPattern.FindAllString(text, -1) {
		parts := splitIdentifier(word)
		terms = append(terms, strings.ToLower(word))
		if len(parts) > 1 {
			for _, p := range parts {
				terms = append(terms, strings.ToLower(p))
			}
		}
	}
	return terms
}

// splitIdentifier splits at lower→upper and letter↔digit boundaries
func splitIdentifier(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := (unicode.IsLower(prev) && unicode.IsUpper(cur)) ||
			(unicode.IsLetter(prev) && unicode.IsDigit(cur)) ||
			(unicode.IsDigit(prev) && unicode.IsLetter(cur))
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
