// Package searcher implements ranked retrieval over a single store.
//
// Four modes are available:
//   - Keyword: full-text relevance (-bm25), paginated in the store
//   - Semantic: cosine similarity between the query vector and stored
//     chunk vectors; chunks without a vector are never candidates
//   - Hybrid: both legs run concurrently, each score set is min-max
//     normalized to [0, 1] and the two are blended with weights that sum
//     to 1 (0.7 semantic, 0.3 keyword by default)
//   - Smart: the top 2×limit keyword candidates are re-scored by the cosine
//     between TF-IDF vectors built over those candidates only, blended with
//     the normalized keyword score (0.6/0.4 by default)
//
// An empty mode selects hybrid when an embedder is configured and smart
// otherwise.
//
// # Basic Usage
//
//	s := searcher.New(store, emb)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "parse config file",
//	    Limit: 10,
//	    Mode:  searcher.ModeHybrid,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.2f %s:%d\n", r.Rank, r.Score, r.File.Path, r.File.StartLine)
//	}
//
// # Ordering
//
// Every mode sorts by score descending and breaks ties by ascending chunk
// id, so identical inputs always produce identical output.
//
// # Degradation
//
// Query vectorization is bounded by the embedding timeout. When the
// provider fails or times out, semantic and hybrid searches return keyword
// results with Degraded set and the cause in DegradedReason.
//
// # Caching
//
// Responses are cached in an LRU keyed by query, mode, paging and filters.
// Entries expire after the cache TTL (5 minutes by default); degraded
// responses are never cached. Call InvalidateCache after index writes.
package searcher
