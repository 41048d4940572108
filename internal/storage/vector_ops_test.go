package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeVector(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	blob := SerializeVector(v)
	assert.Len(t, blob, 16)
	assert.Equal(t, v, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestSearchVector(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, chunks := insertFile(t, store, "a.go", "go", "alpha", "beta", "gamma", "delta")
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	for i, v := range vectors {
		require.NoError(t, store.UpsertEmbedding(ctx, &Embedding{ChunkID: chunks[i].ID, Vector: v, Provider: "test"}))
	}
	// A vector of another dimension never matches
	require.NoError(t, store.UpsertEmbedding(ctx, &Embedding{ChunkID: chunks[3].ID, Vector: []float32{1, 0}, Provider: "test"}))

	hits, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, chunks[0].ID, hits[0].ChunkID)
	assert.Equal(t, chunks[1].ID, hits[1].ChunkID)
	assert.Equal(t, chunks[2].ID, hits[2].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "alpha", hits[0].Content)
	assert.Equal(t, "a.go", hits[0].Path)

	hits, err = store.SearchVector(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = store.SearchVector(ctx, []float32{1, 0, 0}, 10, &SearchFilters{Language: "python"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := store.CountVector(ctx, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = store.CountVector(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.CountVector(ctx, 3, &SearchFilters{Language: "python"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchVector_TiesByChunkID(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, chunks := insertFile(t, store, "a.go", "go", "one", "two", "three")
	for _, c := range chunks {
		require.NoError(t, store.UpsertEmbedding(ctx, &Embedding{ChunkID: c.ID, Vector: []float32{0.5, 0.5}, Provider: "test"}))
	}

	hits, err := store.SearchVector(ctx, []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i := range chunks {
		assert.Equal(t, chunks[i].ID, hits[i].ChunkID)
	}
}

func TestListChunksWithoutEmbedding(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, chunks := insertFile(t, store, "a.go", "go", "one", "two", "three")
	require.NoError(t, store.UpsertEmbedding(ctx, &Embedding{ChunkID: chunks[1].ID, Vector: []float32{1}, Provider: "test"}))

	pending, err := store.ListChunksWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, chunks[0].ID, pending[0].ID)
	assert.Equal(t, chunks[2].ID, pending[1].ID)

	emb, err := store.GetEmbedding(ctx, chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Dimension)
	assert.Equal(t, []float32{1}, emb.Vector)
}

func TestBuildMatchExpression(t *testing.T) {
	assert.Equal(t, `"xyz123"`, buildMatchExpression("xyz123"))
	assert.Equal(t, `"parse" OR "config"`, buildMatchExpression("parse config"))
	assert.Equal(t, `"my_func"`, buildMatchExpression(`"my_func"*`))
	assert.Equal(t, "", buildMatchExpression(" ()* "))
}
