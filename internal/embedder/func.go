package embedder

import (
	"context"
	"errors"
	"fmt"
)

// VectorizeFunc is an externally provided vectorization function. It must
// return one vector per input text, in order.
type VectorizeFunc func(ctx context.Context, texts []string) ([][]float32, error)

// FuncEmbedder adapts a VectorizeFunc to the Embedder interface, adding
// caching and retry. Transport concerns stay inside the function.
type FuncEmbedder struct {
	name  string
	dim   int
	fn    VectorizeFunc
	cache *Cache
	retry RetryConfig
}

// FuncOption configures a FuncEmbedder
type FuncOption func(*FuncEmbedder)

// WithCache enables result caching by content hash
func WithCache(cache *Cache) FuncOption {
	return func(f *FuncEmbedder) {
		f.cache = cache
	}
}

// WithRetry overrides the retry policy
func WithRetry(cfg RetryConfig) FuncOption {
	return func(f *FuncEmbedder) {
		f.retry = cfg
	}
}

// NewFuncEmbedder wraps fn. A dimension of 0 accepts vectors of any length.
func NewFuncEmbedder(name string, dimension int, fn VectorizeFunc, opts ...FuncOption) *FuncEmbedder {
	if name == "" {
		name = ProviderFunc
	}
	f := &FuncEmbedder{
		name:  name,
		dim:   dimension,
		fn:    fn,
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FuncEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp, err := f.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (f *FuncEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missTexts []string
	var missIdx []int
	for i, text := range req.Texts {
		if f.cache != nil {
			if vec, ok := f.cache.Get(f.name, text); ok {
				embeddings[i] = &Embedding{Vector: vec, Dimension: len(vec), Provider: f.name}
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := retry(ctx, f.retry, func() ([][]float32, error) {
			return f.call(ctx, missTexts)
		})
		if err != nil {
			return nil, err
		}

		for j, vec := range vectors {
			if f.cache != nil {
				f.cache.Put(f.name, missTexts[j], vec)
			}
			embeddings[missIdx[j]] = &Embedding{Vector: vec, Dimension: len(vec), Provider: f.name}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   f.name,
	}, nil
}

// call invokes the function once and classifies its failures
func (f *FuncEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := f.fn(ctx, texts)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProviderError{
			Provider:  f.name,
			Op:        "vectorize",
			Retryable: ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Provider: f.name,
			Op:       "vectorize",
			Cause:    fmt.Errorf("%w: got %d vectors for %d texts", ErrInvalidInput, len(vectors), len(texts)),
		}
	}
	for i, v := range vectors {
		if len(v) == 0 || (f.dim > 0 && len(v) != f.dim) {
			return nil, &ProviderError{
				Provider: f.name,
				Op:       "vectorize",
				Cause:    fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrInvalidInput, i, len(v), f.dim),
			}
		}
	}
	return vectors, nil
}

func (f *FuncEmbedder) Dimension() int {
	return f.dim
}

func (f *FuncEmbedder) Provider() string {
	return f.name
}

func (f *FuncEmbedder) Close() error {
	return nil
}
