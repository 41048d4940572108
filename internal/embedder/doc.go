// Package embedder turns chunk text into vectors for semantic search.
//
// The engine never talks to an embedding service directly. It calls an
// Embedder, which is either the in-process LocalProvider (feature hashing
// over identifier terms) or a FuncEmbedder wrapping a vectorization
// function supplied by the host application:
//
//	emb := embedder.NewFuncEmbedder("remote", 768, vectorize,
//	    embedder.WithCache(embedder.NewCache(10000)))
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk1.Content, chunk2.Content},
//	})
//
// Failures of the vectorization function surface as *ProviderError, which
// matches types.ErrEmbeddingProvider. Transient failures are retried with
// exponential backoff; searches treat a final failure as a reason to fall
// back to keyword ranking.
package embedder
