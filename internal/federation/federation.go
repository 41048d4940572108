package federation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/nexus/internal/embedder"
	"github.com/dshills/nexus/internal/registry"
	"github.com/dshills/nexus/internal/searcher"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

// Scope selects the stores a query runs against
type Scope string

const (
	ScopeRepo    Scope = "repo"
	ScopeBranch  Scope = "branch"
	ScopeTicket  Scope = "ticket"
	ScopeFeature Scope = "feature"
	ScopeGlobal  Scope = "global"
	ScopeAll     Scope = "all"
)

// DefaultParallelism bounds concurrent store queries
const DefaultParallelism = 8

// StoreProvider hands out store handles. *registry.Registry implements it.
type StoreProvider interface {
	GlobalStore(ctx context.Context) (storage.Store, error)
	OpenStore(ctx context.Context, name string) (storage.Store, error)
	ReleaseStore(name string)
	ListProjects(ctx context.Context) ([]*registry.Project, error)
}

// Request is a scope plus an optional project name. An empty scope means
// all.
type Request struct {
	Scope   Scope
	Project string
}

// QueryFunc runs one query against one store. source is the store name.
type QueryFunc func(ctx context.Context, source string, store storage.Store) ([]types.SearchResult, error)

// ProjectCount is the number of results one project store contributed
type ProjectCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Sources is the per-store breakdown of a federated result. Stores that
// failed are absent.
type Sources struct {
	Global   int            `json:"global"`
	Projects []ProjectCount `json:"projects"`
}

// SourceError records a store that was skipped
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// Result holds merged results with provenance
type Result struct {
	Results []types.SearchResult
	Sources Sources
	Skipped []SourceError

	// Degraded is set when any store answered with degraded search results
	Degraded bool
}

// Partial reports whether any resolved store was skipped
func (r *Result) Partial() bool {
	return len(r.Skipped) > 0
}

// Router fans queries out to the stores a scope resolves to. Handles are
// opened on first use and kept until Close.
type Router struct {
	provider    StoreProvider
	embedder    embedder.Embedder
	searchOpts  []searcher.Option
	parallelism int
	logger      zerolog.Logger

	mu        sync.Mutex
	stores    map[string]storage.Store
	searchers map[string]*searcher.Searcher
	closed    bool
}

// Option configures a Router
type Option func(*Router)

// WithEmbedder sets the embedder used by Search
func WithEmbedder(e embedder.Embedder) Option {
	return func(r *Router) {
		r.embedder = e
	}
}

// WithSearcherOptions are passed to every per-store searcher
func WithSearcherOptions(opts ...searcher.Option) Option {
	return func(r *Router) {
		r.searchOpts = append(r.searchOpts, opts...)
	}
}

// WithParallelism bounds concurrent store queries
func WithParallelism(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a Router over provider
func New(provider StoreProvider, opts ...Option) *Router {
	r := &Router{
		provider:    provider,
		parallelism: DefaultParallelism,
		logger:      log.Logger,
		stores:      make(map[string]storage.Store),
		searchers:   make(map[string]*searcher.Searcher),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "federation").Logger()
	return r
}

// Resolve returns the store names a request covers, global first
func (r *Router) Resolve(ctx context.Context, req Request) ([]string, error) {
	switch req.Scope {
	case ScopeGlobal:
		return []string{registry.GlobalStoreName}, nil
	case ScopeRepo, ScopeBranch, ScopeTicket, ScopeFeature:
		if req.Project != "" {
			return []string{req.Project}, nil
		}
		return r.projectNames(ctx)
	case ScopeAll, "":
		names, err := r.projectNames(ctx)
		if err != nil {
			return nil, err
		}
		return append([]string{registry.GlobalStoreName}, names...), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidScope, req.Scope)
	}
}

func (r *Router) projectNames(ctx context.Context) ([]string, error) {
	projects, err := r.provider.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return names, nil
}

// Store returns the cached handle for name, opening it on first use
func (r *Router) Store(ctx context.Context, name string) (storage.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, registry.ErrClosed
	}
	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	var (
		s   storage.Store
		err error
	)
	if name == registry.GlobalStoreName {
		s, err = r.provider.GlobalStore(ctx)
	} else {
		s, err = r.provider.OpenStore(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// searcherFor returns the cached searcher of a store
func (r *Router) searcherFor(name string, store storage.Store) *searcher.Searcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.searchers[name]; ok {
		return s
	}
	opts := append([]searcher.Option{searcher.WithLogger(r.logger)}, r.searchOpts...)
	s := searcher.New(store, r.embedder, opts...)
	r.searchers[name] = s
	return s
}

// Searcher returns the cached searcher of one store
func (r *Router) Searcher(ctx context.Context, name string) (*searcher.Searcher, error) {
	store, err := r.Store(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.searcherFor(name, store), nil
}

// Query runs fn against every store the request resolves to. A store that
// fails to open or to answer is skipped and reported in Result.Skipped.
// Results are ordered by score, then source, then chunk id.
func (r *Router) Query(ctx context.Context, req Request, fn QueryFunc) (*Result, error) {
	targets, err := r.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		items []types.SearchResult
		err   error
	}
	outcomes := make([]outcome, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(r.parallelism)
	for i, name := range targets {
		g.Go(func() error {
			store, err := r.Store(ctx, name)
			if err != nil {
				outcomes[i].err = fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
				return nil
			}
			items, err := fn(ctx, name, store)
			if err != nil {
				outcomes[i].err = fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
				return nil
			}
			for j := range items {
				items[j].Source = name
			}
			outcomes[i].items = items
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Sources: Sources{Projects: []ProjectCount{}}}
	for i, name := range targets {
		o := outcomes[i]
		if o.err != nil {
			r.logger.Warn().Err(o.err).Str("store", name).Msg("store skipped")
			result.Skipped = append(result.Skipped, SourceError{Source: name, Err: o.err})
			continue
		}
		if name == registry.GlobalStoreName {
			result.Sources.Global = len(o.items)
		} else {
			result.Sources.Projects = append(result.Sources.Projects, ProjectCount{Name: name, Count: len(o.items)})
		}
		result.Results = append(result.Results, o.items...)
	}

	sort.SliceStable(result.Results, func(i, j int) bool {
		a, b := result.Results[i], result.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ChunkID < b.ChunkID
	})
	return result, nil
}

// Search runs a ranked search in every resolved store and merges the
// pages. Each store is asked for offset+limit results; the merged list is
// then paged and re-ranked.
func (r *Router) Search(ctx context.Context, query string, req Request, sreq searcher.SearchRequest) (*Result, error) {
	if sreq.Limit <= 0 {
		sreq.Limit = searcher.DefaultLimit
	}
	if sreq.Offset < 0 {
		sreq.Offset = 0
	}
	offset, limit := sreq.Offset, sreq.Limit

	perStore := sreq
	perStore.Query = query
	perStore.Offset = 0
	perStore.Limit = offset + limit

	var (
		mu       sync.Mutex
		degraded bool
	)
	result, err := r.Query(ctx, req, func(ctx context.Context, source string, store storage.Store) ([]types.SearchResult, error) {
		resp, err := r.searcherFor(source, store).Search(ctx, perStore)
		if err != nil {
			return nil, err
		}
		if resp.Degraded {
			mu.Lock()
			degraded = true
			mu.Unlock()
		}
		return resp.Results, nil
	})
	if err != nil {
		return nil, err
	}
	result.Degraded = degraded

	if offset >= len(result.Results) {
		result.Results = nil
	} else {
		end := offset + limit
		if end > len(result.Results) {
			end = len(result.Results)
		}
		result.Results = result.Results[offset:end]
	}
	for i := range result.Results {
		result.Results[i].Rank = offset + i + 1
	}
	return result, nil
}

// InvalidateCache drops the cached queries of one store
func (r *Router) InvalidateCache(name string) {
	r.mu.Lock()
	s, ok := r.searchers[name]
	r.mu.Unlock()
	if ok {
		s.InvalidateCache()
	}
}

// Forget releases and drops the cached handle of one store, for example
// before its project is removed
func (r *Router) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[name]; ok {
		r.provider.ReleaseStore(name)
		delete(r.stores, name)
	}
	delete(r.searchers, name)
}

// Close releases every cached handle. The router is unusable afterwards.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for name := range r.stores {
		r.provider.ReleaseStore(name)
	}
	r.stores = make(map[string]storage.Store)
	r.searchers = make(map[string]*searcher.Searcher)
	return nil
}
