package searcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/nexus/internal/embedder"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

// Mode defines how search is performed
type Mode string

const (
	ModeKeyword  Mode = "keyword"  // Full-text relevance only
	ModeSemantic Mode = "semantic" // Embedding similarity only
	ModeHybrid   Mode = "hybrid"   // Weighted blend of normalized semantic and keyword scores
	ModeSmart    Mode = "smart"    // Keyword candidates re-ranked by candidate-local TF-IDF
)

const (
	DefaultLimit            = 10
	MaxLimit                = 100
	DefaultCacheSize        = 1000
	DefaultCacheTTL         = 5 * time.Minute
	DefaultEmbeddingTimeout = 2 * time.Second
)

// Weights are the two blend factors of a fused score. They are normalized
// to sum to 1 before use.
type Weights struct {
	Semantic float64
	Keyword  float64
}

var (
	DefaultHybridWeights = Weights{Semantic: 0.7, Keyword: 0.3}
	DefaultSmartWeights  = Weights{Semantic: 0.6, Keyword: 0.4}
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int
	Offset   int
	Mode     Mode // Empty selects hybrid with an embedder, smart without
	Filters  *storage.SearchFilters
	MinScore float64 // Smart mode floor; 0 uses the searcher default
	UseCache bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results         []types.SearchResult
	TotalResults    int  // All matches in keyword and semantic mode; the fused pool otherwise
	Mode            Mode // The mode that produced Results
	Duration        time.Duration
	EmbeddingTime   time.Duration
	CacheHit        bool
	KeywordResults  int
	SemanticResults int

	// Degraded is set when semantic work was requested but keyword-only
	// results were returned
	Degraded       bool
	DegradedReason string
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs the retrieval modes over one store
type Searcher struct {
	store    storage.Store
	embedder embedder.Embedder
	logger   zerolog.Logger

	hybrid           Weights
	smart            Weights
	minScore         float64
	embeddingTimeout time.Duration
	cacheSize        int
	cacheTTL         time.Duration

	cache   *lru.Cache[uint64, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithHybridWeights sets the semantic/keyword blend of hybrid mode
func WithHybridWeights(w Weights) Option {
	return func(s *Searcher) {
		s.hybrid = w
	}
}

// WithSmartWeights sets the TF-IDF/keyword blend of smart mode
func WithSmartWeights(w Weights) Option {
	return func(s *Searcher) {
		s.smart = w
	}
}

// WithMinScore sets the default smart mode floor
func WithMinScore(score float64) Option {
	return func(s *Searcher) {
		s.minScore = score
	}
}

// WithEmbeddingTimeout bounds query vectorization
func WithEmbeddingTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.embeddingTimeout = d
		}
	}
}

// WithCache sets the query cache capacity and entry lifetime
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Searcher) {
		if size > 0 {
			s.cacheSize = size
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// New creates a Searcher. emb may be nil; semantic work then degrades to
// keyword results.
func New(store storage.Store, emb embedder.Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		store:            store,
		embedder:         emb,
		logger:           log.Logger,
		hybrid:           DefaultHybridWeights,
		smart:            DefaultSmartWeights,
		embeddingTimeout: DefaultEmbeddingTimeout,
		cacheSize:        DefaultCacheSize,
		cacheTTL:         DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hybrid = normalizeWeights(s.hybrid, DefaultHybridWeights)
	s.smart = normalizeWeights(s.smart, DefaultSmartWeights)
	s.logger = s.logger.With().Str("component", "searcher").Logger()

	cache, err := lru.New[uint64, *cacheEntry](s.cacheSize)
	if err != nil {
		// Only possible with a non-positive size, which WithCache rejects
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	s.cache = cache
	return s
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var (
		response *SearchResponse
		err      error
	)
	switch req.Mode {
	case ModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	case ModeSemantic:
		response, err = s.semanticSearch(ctx, req)
	case ModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case ModeSmart:
		response, err = s.smartSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)

	if req.UseCache && !response.Degraded {
		s.storeInCache(key, response)
	}
	return response, nil
}

// validateRequest normalizes limits and resolves the default mode
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return types.ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	switch req.Mode {
	case "":
		if s.embedder != nil {
			req.Mode = ModeHybrid
		} else {
			req.Mode = ModeSmart
		}
	case ModeKeyword, ModeSemantic, ModeHybrid, ModeSmart:
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}

	if req.MinScore <= 0 {
		req.MinScore = s.minScore
	}
	return nil
}

// keywordSearch ranks by full-text relevance with store-side pagination
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.store.SearchText(ctx, req.Query, req.Limit, req.Offset, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	total, err := s.store.CountText(ctx, req.Query, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("keyword count failed: %w", err)
	}

	scored := make([]scoredHit, len(hits))
	for i, h := range hits {
		scored[i] = scoredHit{hit: h, score: h.Score, keyword: h.Score}
	}
	sortScored(scored)

	return &SearchResponse{
		Results:        toResults(scored, req.Offset),
		TotalResults:   total,
		Mode:           ModeKeyword,
		KeywordResults: len(hits),
	}, nil
}

// embedQuery vectorizes the query within the embedding timeout
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, time.Duration, error) {
	if s.embedder == nil {
		return nil, 0, fmt.Errorf("%w: no embedding provider configured", types.ErrEmbeddingProvider)
	}

	ctx, cancel := context.WithTimeout(ctx, s.embeddingTimeout)
	defer cancel()

	start := time.Now()
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	elapsed := time.Since(start)
	if err != nil {
		if !errors.Is(err, types.ErrEmbeddingProvider) {
			err = fmt.Errorf("%w: %w", types.ErrEmbeddingProvider, err)
		}
		return nil, elapsed, err
	}
	return emb.Vector, elapsed, nil
}

// degrade answers with keyword results and records why
func (s *Searcher) degrade(ctx context.Context, req SearchRequest, cause error, embeddingTime time.Duration) (*SearchResponse, error) {
	s.logger.Warn().Err(cause).Str("mode", string(req.Mode)).Msg("semantic search unavailable, using keyword results")

	resp, err := s.keywordSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Degraded = true
	resp.DegradedReason = cause.Error()
	resp.EmbeddingTime = embeddingTime
	return resp, nil
}

// semanticSearch ranks by cosine similarity. Chunks without a vector are
// never candidates.
func (s *Searcher) semanticSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vector, embeddingTime, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.degrade(ctx, req, err, embeddingTime)
	}

	hits, err := s.store.SearchVector(ctx, vector, req.Offset+req.Limit, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	total, err := s.store.CountVector(ctx, len(vector), req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector count failed: %w", err)
	}

	scored := make([]scoredHit, len(hits))
	for i, h := range hits {
		scored[i] = scoredHit{hit: h, score: h.Score, semantic: h.Score}
	}
	sortScored(scored)

	return &SearchResponse{
		Results:         toResults(page(scored, req.Offset, req.Limit), req.Offset),
		TotalResults:    total,
		Mode:            ModeSemantic,
		EmbeddingTime:   embeddingTime,
		SemanticResults: len(hits),
	}, nil
}

// hybridSearch runs both legs concurrently over an enlarged candidate pool
// and fuses their normalized scores
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	pool := 2 * (req.Offset + req.Limit)

	var (
		keywordHits   []storage.Hit
		semanticHits  []storage.Hit
		embedErr      error
		embeddingTime time.Duration
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.store.SearchText(gctx, req.Query, pool, 0, req.Filters)
		if err != nil {
			return fmt.Errorf("keyword search failed: %w", err)
		}
		keywordHits = hits
		return nil
	})
	g.Go(func() error {
		vector, elapsed, err := s.embedQuery(gctx, req.Query)
		embeddingTime = elapsed
		if err != nil {
			embedErr = err
			return nil
		}
		hits, err := s.store.SearchVector(gctx, vector, pool, req.Filters)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		semanticHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if embedErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.degrade(ctx, req, embedErr, embeddingTime)
	}

	fused := fuse(semanticHits, keywordHits, s.hybrid)
	sortScored(fused)

	return &SearchResponse{
		Results:         toResults(page(fused, req.Offset, req.Limit), req.Offset),
		TotalResults:    len(fused),
		Mode:            ModeHybrid,
		EmbeddingTime:   embeddingTime,
		KeywordResults:  len(keywordHits),
		SemanticResults: len(semanticHits),
	}, nil
}

// smartSearch re-ranks the top keyword candidates using the candidates
// themselves as the TF-IDF corpus
func (s *Searcher) smartSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.store.SearchText(ctx, req.Query, 2*(req.Offset+req.Limit), 0, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	scored := rerank(req.Query, hits, s.smart)

	kept := scored[:0]
	for _, sh := range scored {
		if sh.score >= req.MinScore {
			kept = append(kept, sh)
		}
	}
	sortScored(kept)

	return &SearchResponse{
		Results:        toResults(page(kept, req.Offset, req.Limit), req.Offset),
		TotalResults:   len(kept),
		Mode:           ModeSmart,
		KeywordResults: len(hits),
	}, nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key uint64) *SearchResponse {
	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(key uint64, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached query. Called after index writes.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached queries
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		// FileInfo holds only primitive fields
		if result.File != nil {
			fileCopy := *result.File
			dst.Results[i].File = &fileCopy
		}
	}
	return &dst
}

// computeQueryHash keys the cache on every field that changes the answer
func computeQueryHash(req SearchRequest) uint64 {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Offset))
	data.WriteString("|")
	data.WriteString(strconv.FormatFloat(req.MinScore, 'g', -1, 64))

	if f := req.Filters; f != nil {
		data.WriteString("|filters:")
		data.WriteString(f.Project)
		data.WriteString("|")
		data.WriteString(f.Language)
		data.WriteString("|")
		data.WriteString(f.FilePattern)
		for _, k := range f.Kinds {
			data.WriteString("|")
			data.WriteString(string(k))
		}
	}

	return xxhash.Sum64String(data.String())
}
