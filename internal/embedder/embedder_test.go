package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/pkg/types"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestComputeHash(t *testing.T) {
	h := ComputeHash("hello world")
	assert.Len(t, h, 16)
	assert.Equal(t, h, ComputeHash("hello world"))
	assert.NotEqual(t, h, ComputeHash("hello world!"))
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, BatchEmbeddingRequest{}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, BatchEmbeddingRequest{Texts: []string{"a", ""}}.Validate(), ErrEmptyText)

	big := make([]string, MaxBatchSize+1)
	for i := range big {
		big[i] = "x"
	}
	assert.ErrorIs(t, BatchEmbeddingRequest{Texts: big}.Validate(), ErrBatchTooLarge)
	assert.NoError(t, BatchEmbeddingRequest{Texts: []string{"a"}}.Validate())
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(2)
	in := []float32{1, 2}
	c.Put("p", "k", in)
	in[1] = 42

	got, ok := c.Get("p", "k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
	got[0] = 99

	again, ok := c.Get("p", "k")
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0])

	_, ok = c.Get("other", "k")
	assert.False(t, ok, "keys are per provider")

	c.Put("p", "a", nil)
	c.Put("p", "b", nil)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("p", "k")
	assert.False(t, ok, "oldest entry evicted")

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&ProviderError{Provider: "p", Op: "vectorize", Retryable: true, Cause: cause})

	assert.ErrorIs(t, err, types.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(cause))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(64, NewCache(10))
	assert.Equal(t, 64, p.Dimension())

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func parseConfig(path string) error"})
	require.NoError(t, err)
	require.Len(t, a.Vector, 64)

	var norm float64
	for _, v := range a.Vector {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func parseConfig(path string) error"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"parseconfig", "parse", "config"}, Terms("parseConfig"))
	assert.Equal(t, []string{"parse", "config"}, Terms("parse_config"))
	assert.Equal(t, []string{"utf8", "utf", "8"}, Terms("utf8"))
	assert.Empty(t, Terms("() {}"))
}

func TestFuncEmbedder_CachesResults(t *testing.T) {
	var calls atomic.Int32
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = []float32{float32(len(text)), 1}
		}
		return out, nil
	}

	e := NewFuncEmbedder("test", 2, fn, WithCache(NewCache(10)))
	ctx := context.Background()

	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bbb"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, resp.Embeddings[1].Vector)
	assert.Equal(t, int32(1), calls.Load())

	// Only the new text reaches the function
	resp, err = e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"bbb", "cc"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{2, 1}, resp.Embeddings[1].Vector)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFuncEmbedder_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("503")
		}
		return [][]float32{{1}}, nil
	}

	e := NewFuncEmbedder("flaky", 1, fn, WithRetry(fastRetry()))
	emb, err := e.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, emb.Vector)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFuncEmbedder_GivesUp(t *testing.T) {
	var calls atomic.Int32
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		return nil, errors.New("unauthorized")
	}

	e := NewFuncEmbedder("down", 1, fn, WithRetry(fastRetry()))
	_, err := e.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmbeddingProvider)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFuncEmbedder_WrongDimensionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		return [][]float32{{1, 2, 3}}, nil
	}

	e := NewFuncEmbedder("bad", 2, fn, WithRetry(fastRetry()))
	_, err := e.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, types.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFuncEmbedder_ContextDeadline(t *testing.T) {
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	e := NewFuncEmbedder("slow", 1, fn, WithRetry(fastRetry()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, types.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew(t *testing.T) {
	_, err := New(Config{Provider: "none"})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = New(Config{Provider: "jina"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	e, err := New(Config{Provider: "LOCAL", Dimension: 32, CacheSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimension())
	assert.Equal(t, ProviderLocal, e.Provider())
	require.NoError(t, e.Close())
}

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(3))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(10))
}
