package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/nexus/internal/chunker"
	"github.com/dshills/nexus/internal/config"
	"github.com/dshills/nexus/internal/embedder"
	"github.com/dshills/nexus/internal/federation"
	"github.com/dshills/nexus/internal/hasher"
	"github.com/dshills/nexus/internal/indexer"
	"github.com/dshills/nexus/internal/memory"
	"github.com/dshills/nexus/internal/registry"
	"github.com/dshills/nexus/internal/searcher"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/internal/watcher"
	"github.com/dshills/nexus/pkg/types"
)

// GlobalStore is the store reference of the shared store
const GlobalStore = registry.GlobalStoreName

var ErrClosed = errors.New("engine closed")

// Engine owns the registry, the store handles and the background watcher.
// Every external operation goes through it.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *registry.Registry
	router   *federation.Router
	embedder embedder.Embedder
	hasher   *hasher.Hasher
	chunker  *chunker.Chunker
	memories *memory.Service

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	indexers map[string]*indexer.Indexer
	watcher  *watcher.Watcher
	watching string // Store the watcher feeds
	closed   bool
}

// Option configures an Engine
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	embedder   embedder.Embedder
	compressor memory.Compressor
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEmbedder replaces the configured embedding provider, for example with
// an external vectorization function wrapped by embedder.NewFuncEmbedder
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithCompressor sets the compressor used for long memories
func WithCompressor(c memory.Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

// New opens the registry under cfg.DataDir and prepares the components.
// A hasher that fails to initialize is fatal.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("component", "engine").Logger()

	emb := o.embedder
	if emb == nil {
		var err error
		emb, err = embedder.New(embedder.Config{
			Provider:  cfg.Embedding.Provider,
			Dimension: cfg.Embedding.Dimension,
			CacheSize: cfg.Embedding.CacheSize,
		})
		switch {
		case errors.Is(err, embedder.ErrNoProviderEnabled):
			logger.Info().Msg("no embedding provider, semantic search disabled")
			emb = nil
		case err != nil:
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := hasher.New()
	if err := <-h.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize hasher: %w", err)
	}

	reg, err := registry.Open(cfg.DataDir, registry.WithLogger(o.logger))
	if err != nil {
		cancel()
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		embedder: emb,
		hasher:   h,
		chunker:  chunker.New(chunker.WithMaxLines(cfg.Index.ChunkLines)),
		ctx:      ctx,
		cancel:   cancel,
		indexers: make(map[string]*indexer.Indexer),
	}
	e.router = federation.New(reg,
		federation.WithEmbedder(emb),
		federation.WithLogger(o.logger),
		federation.WithSearcherOptions(
			searcher.WithHybridWeights(searcher.Weights{Semantic: cfg.Search.SemanticWeight, Keyword: cfg.Search.KeywordWeight}),
			searcher.WithSmartWeights(searcher.Weights{Semantic: cfg.Search.SmartSemanticWeight, Keyword: cfg.Search.SmartKeywordWeight}),
			searcher.WithMinScore(cfg.Search.MinScore),
			searcher.WithEmbeddingTimeout(cfg.Search.EmbeddingTimeout),
			searcher.WithCache(cfg.Search.CacheSize, cfg.Search.CacheTTL),
		),
	)
	e.memories = memory.New(
		memory.WithStats(reg),
		memory.WithCompressor(o.compressor),
		memory.WithLogger(o.logger),
	)

	logger.Info().Str("data_dir", cfg.DataDir).Bool("semantic", emb != nil).Msg("engine ready")
	return e, nil
}

// Config returns the configuration the engine runs with
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// resolveStore maps a store reference to a store name. Empty and "global"
// mean the shared store; anything else must be a registered project.
func (e *Engine) resolveStore(ctx context.Context, ref string) (string, error) {
	if ref == "" || ref == GlobalStore {
		return GlobalStore, nil
	}
	p, err := e.registry.GetProject(ctx, ref)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// indexerFor returns the indexer of a store, creating it on first use
func (e *Engine) indexerFor(ctx context.Context, name string) (*indexer.Indexer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if idx, ok := e.indexers[name]; ok {
		return idx, nil
	}

	store, err := e.router.Store(ctx, name)
	if err != nil {
		return nil, err
	}
	project := name
	opts := []indexer.Option{}
	if name == GlobalStore {
		// the shared store is fed from arbitrary roots
		project = ""
		opts = append(opts, indexer.WithAbsolutePaths())
	}
	idx := indexer.New(store, append(opts,
		indexer.WithHasher(e.hasher),
		indexer.WithChunker(e.chunker),
		indexer.WithEmbedder(e.embedder),
		indexer.WithLogger(e.logger),
		indexer.WithProject(project),
		indexer.WithMaxFileSize(e.cfg.Index.MaxFileSize),
		indexer.WithBatchSize(e.cfg.Index.BatchSize),
		indexer.WithWorkers(e.cfg.Index.Workers),
		indexer.WithIgnore(e.cfg.IgnoreFiles(), e.cfg.Watch.Patterns),
	)...)
	e.indexers[name] = idx
	return idx, nil
}

// afterIndex refreshes the registry counters and drops cached queries of a
// store whose content changed
func (e *Engine) afterIndex(ctx context.Context, name string) {
	e.router.InvalidateCache(name)
	if name == GlobalStore {
		return
	}
	if _, err := e.registry.UpdateStats(ctx, name); err != nil {
		e.logger.Warn().Err(err).Str("project", name).Msg("failed to update project stats")
	}
}

// IndexFiles indexes paths under root into a store. A zero batch size uses
// the configured one. Per-file failures are reported in the results.
func (e *Engine) IndexFiles(ctx context.Context, storeRef string, paths []string, root string, batchSize int) ([]types.FileResult, error) {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	idx, err := e.indexerFor(ctx, name)
	if err != nil {
		return nil, err
	}

	results := idx.UpdateFiles(ctx, paths, root, batchSize)
	if _, err := idx.EmbedPending(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("embedding backfill failed")
	}
	e.afterIndex(ctx, name)
	return results, nil
}

// DeleteFiles removes the records of paths under root from a store
func (e *Engine) DeleteFiles(ctx context.Context, storeRef string, paths []string, root string) ([]types.FileResult, error) {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	idx, err := e.indexerFor(ctx, name)
	if err != nil {
		return nil, err
	}
	results := idx.DeleteFiles(ctx, paths, root)
	e.afterIndex(ctx, name)
	return results, nil
}

// IndexRouted indexes each path into the project containing it. Paths no
// project claims go to the shared store, which keys them by absolute path;
// fallbackRoot bounds them. Results are keyed by store name.
func (e *Engine) IndexRouted(ctx context.Context, paths []string, fallbackRoot string) (map[string][]types.FileResult, error) {
	fallback, err := filepath.Abs(fallbackRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	jobs := make(map[string]*indexer.StoreJob)
	var order []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}

		name, root := GlobalStore, fallback
		if proj, err := e.registry.DetectProject(ctx, abs); err == nil {
			name, root = proj.Name, proj.RootPath
		} else if !errors.Is(err, types.ErrProjectNotFound) {
			return nil, err
		}

		job, ok := jobs[name]
		if !ok {
			idx, err := e.indexerFor(ctx, name)
			if err != nil {
				return nil, err
			}
			job = &indexer.StoreJob{Name: name, Indexer: idx, Root: root}
			jobs[name] = job
			order = append(order, name)
		}
		job.Paths = append(job.Paths, abs)
	}

	list := make([]indexer.StoreJob, 0, len(order))
	for _, name := range order {
		list = append(list, *jobs[name])
	}
	results := indexer.RunStores(ctx, list)

	for _, name := range order {
		if _, err := jobs[name].Indexer.EmbedPending(ctx); err != nil {
			e.logger.Warn().Err(err).Str("store", name).Msg("embedding backfill failed")
		}
		e.afterIndex(ctx, name)
	}
	return results, nil
}

// IndexProject runs a full pass over a registered project's root
func (e *Engine) IndexProject(ctx context.Context, name string) (*indexer.Statistics, error) {
	p, err := e.registry.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	idx, err := e.indexerFor(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	stats, err := idx.IndexProject(ctx, p.RootPath)
	if err != nil {
		return nil, err
	}
	e.afterIndex(ctx, p.Name)
	return stats, nil
}

// ClearIndex drops every file and chunk of a store. Memories and patterns
// are kept.
func (e *Engine) ClearIndex(ctx context.Context, storeRef string) error {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return err
	}
	store, err := e.router.Store(ctx, name)
	if err != nil {
		return err
	}
	if err := store.ClearIndex(ctx); err != nil {
		return fmt.Errorf("failed to clear %s: %w", name, err)
	}
	e.afterIndex(ctx, name)
	return nil
}

// Stats returns the counters of one store
func (e *Engine) Stats(ctx context.Context, storeRef string) (*storage.Stats, error) {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	store, err := e.router.Store(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.Stats(ctx)
}

// WatchOptions selects what the watcher observes. An empty Store detects
// the project from Root and falls back to the shared store.
type WatchOptions struct {
	Store    string
	Root     string
	Debounce time.Duration // Zero uses watch.debounce
	Patterns []string      // Added to watch.patterns
}

// WatcherStart begins observing a root. Only one watcher runs at a time.
func (e *Engine) WatcherStart(ctx context.Context, opts WatchOptions) error {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}

	name := GlobalStore
	switch {
	case opts.Store != "":
		if name, err = e.resolveStore(ctx, opts.Store); err != nil {
			return err
		}
	default:
		if p, err := e.registry.DetectProject(ctx, root); err == nil {
			name = p.Name
		} else if !errors.Is(err, types.ErrProjectNotFound) {
			return err
		}
	}

	idx, err := e.indexerFor(ctx, name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil && e.watcher.Status().Status != watcher.StateStopped {
		return watcher.ErrAlreadyRunning
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = e.cfg.Watch.Debounce
	}
	w := watcher.New(watcher.Config{
		Root:        root,
		Debounce:    debounce,
		MaxQueue:    e.cfg.Watch.MaxQueue,
		IgnoreFiles: e.cfg.IgnoreFiles(),
		Patterns:    append(append([]string(nil), e.cfg.Watch.Patterns...), opts.Patterns...),
	}, e.flushFunc(name, idx), watcher.WithLogger(e.logger))

	if err := w.Start(e.ctx); err != nil {
		return err
	}
	e.watcher = w
	e.watching = name
	e.logger.Info().Str("root", root).Str("store", name).Msg("watching")
	return nil
}

// flushFunc indexes one watcher batch into a store
func (e *Engine) flushFunc(name string, idx *indexer.Indexer) watcher.FlushFunc {
	return func(ctx context.Context, batch watcher.Batch) {
		if batch.Rescan {
			if _, err := idx.IndexProject(ctx, batch.Root); err != nil {
				e.logger.Error().Err(err).Str("store", name).Msg("rescan failed")
			}
		} else {
			failed := 0
			for _, res := range idx.Sync(ctx, batch.Paths, batch.Root) {
				if res.Error != nil {
					failed++
					e.logger.Warn().Err(res.Error).Str("path", res.Path).Msg("file not indexed")
				}
			}
			e.logger.Debug().Int("paths", len(batch.Paths)).Int("failed", failed).Str("store", name).Msg("batch indexed")
		}
		e.afterIndex(ctx, name)
	}
}

func (e *Engine) currentWatcher() (*watcher.Watcher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher == nil {
		return nil, watcher.ErrNotRunning
	}
	return e.watcher, nil
}

// WatcherPause stops scheduling flushes; events keep queueing
func (e *Engine) WatcherPause() error {
	w, err := e.currentWatcher()
	if err != nil {
		return err
	}
	return w.Pause()
}

// WatcherResume flushes everything queued while paused
func (e *Engine) WatcherResume() error {
	w, err := e.currentWatcher()
	if err != nil {
		return err
	}
	return w.Resume()
}

// WatcherStop drains the queue and releases the watch
func (e *Engine) WatcherStop() error {
	w, err := e.currentWatcher()
	if err != nil {
		return err
	}
	return w.Stop()
}

// WatcherFlush flushes the queue now
func (e *Engine) WatcherFlush() error {
	w, err := e.currentWatcher()
	if err != nil {
		return err
	}
	w.Flush()
	return nil
}

// WatcherStatus reports the watcher state. Store names the store fed by
// the most recent watcher.
type WatcherStatus struct {
	watcher.Status
	Store string
}

func (e *Engine) WatcherStatus() WatcherStatus {
	e.mu.Lock()
	w, name := e.watcher, e.watching
	e.mu.Unlock()
	if w == nil {
		return WatcherStatus{Status: watcher.Status{Status: watcher.StateStopped}}
	}
	return WatcherStatus{Status: w.Status(), Store: name}
}

// SearchOptions are the caller-facing search parameters
type SearchOptions struct {
	Limit       int
	Offset      int
	Mode        searcher.Mode // Empty means keyword for Search
	Project     string        // Filter on the file's project
	Language    string
	FilePattern string
	Kinds       []types.Kind
	MinScore    float64
	NoCache     bool
}

func (o SearchOptions) request(query string, mode searcher.Mode) searcher.SearchRequest {
	req := searcher.SearchRequest{
		Query:    query,
		Limit:    o.Limit,
		Offset:   o.Offset,
		Mode:     mode,
		MinScore: o.MinScore,
		UseCache: !o.NoCache,
	}
	if o.Project != "" || o.Language != "" || o.FilePattern != "" || len(o.Kinds) > 0 {
		req.Filters = &storage.SearchFilters{
			Project:     o.Project,
			Language:    o.Language,
			FilePattern: o.FilePattern,
			Kinds:       o.Kinds,
		}
	}
	return req
}

// Search runs a query against one store. The mode defaults to keyword.
func (e *Engine) Search(ctx context.Context, storeRef, query string, opts SearchOptions) (*searcher.SearchResponse, error) {
	mode := opts.Mode
	if mode == "" {
		mode = searcher.ModeKeyword
	}
	return e.search(ctx, storeRef, opts.request(query, mode))
}

// SemanticSearch ranks by embedding similarity. It degrades to keyword
// results when the provider fails.
func (e *Engine) SemanticSearch(ctx context.Context, storeRef, query string, opts SearchOptions) (*searcher.SearchResponse, error) {
	return e.search(ctx, storeRef, opts.request(query, searcher.ModeSemantic))
}

// HybridSearch fuses keyword and semantic scores
func (e *Engine) HybridSearch(ctx context.Context, storeRef, query string, opts SearchOptions) (*searcher.SearchResponse, error) {
	return e.search(ctx, storeRef, opts.request(query, searcher.ModeHybrid))
}

func (e *Engine) search(ctx context.Context, storeRef string, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	s, err := e.router.Searcher(ctx, name)
	if err != nil {
		return nil, err
	}
	resp, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	for i := range resp.Results {
		resp.Results[i].Source = name
	}
	return resp, nil
}

// FederatedQuery runs a search across the stores a scope resolves to.
// Unavailable stores are skipped and listed in the result.
func (e *Engine) FederatedQuery(ctx context.Context, query string, req federation.Request, opts SearchOptions) (*federation.Result, error) {
	return e.router.Search(ctx, query, req, opts.request(query, opts.Mode))
}

// RegisterProject registers root under name and creates its store
func (e *Engine) RegisterProject(ctx context.Context, name, root, description string) (*registry.Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	return e.registry.RegisterProject(ctx, name, abs, description)
}

// DetectProject finds the registered project containing path
func (e *Engine) DetectProject(ctx context.Context, path string) (*registry.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return e.registry.DetectProject(ctx, abs)
}

func (e *Engine) GetProject(ctx context.Context, name string) (*registry.Project, error) {
	return e.registry.GetProject(ctx, name)
}

func (e *Engine) ListProjects(ctx context.Context) ([]*registry.Project, error) {
	return e.registry.ListProjects(ctx)
}

// UpdateStats recomputes a project's counters from its store
func (e *Engine) UpdateStats(ctx context.Context, name string) (*registry.Project, error) {
	return e.registry.UpdateStats(ctx, name)
}

// RemoveProject stops a watcher feeding the project, releases its handles
// and deletes it with its store
func (e *Engine) RemoveProject(ctx context.Context, name string) error {
	if _, err := e.registry.GetProject(ctx, name); err != nil {
		return err
	}

	e.mu.Lock()
	w := e.watcher
	feeding := w != nil && e.watching == name
	e.mu.Unlock()
	if feeding {
		if err := w.Stop(); err != nil && !errors.Is(err, watcher.ErrNotRunning) {
			return err
		}
	}

	e.mu.Lock()
	delete(e.indexers, name)
	e.mu.Unlock()
	e.router.Forget(name)

	return e.registry.RemoveProject(ctx, name)
}

// AddMemory stores a memory in a store, compressing it to maxTokens when
// positive
func (e *Engine) AddMemory(ctx context.Context, storeRef string, m *storage.Memory, maxTokens int) error {
	name, store, err := e.storeFor(ctx, storeRef)
	if err != nil {
		return err
	}
	return e.memories.Add(ctx, store, name, m, maxTokens)
}

// SearchMemories ranks the memories of a store by keyword relevance
func (e *Engine) SearchMemories(ctx context.Context, storeRef, query string, limit int) ([]*storage.Memory, error) {
	_, store, err := e.storeFor(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	return e.memories.Search(ctx, store, query, limit)
}

func (e *Engine) DeleteMemory(ctx context.Context, storeRef, id string) error {
	name, store, err := e.storeFor(ctx, storeRef)
	if err != nil {
		return err
	}
	return e.memories.Delete(ctx, store, name, id)
}

func (e *Engine) AddPattern(ctx context.Context, storeRef string, p *storage.Pattern) error {
	name, store, err := e.storeFor(ctx, storeRef)
	if err != nil {
		return err
	}
	return e.memories.AddPattern(ctx, store, name, p)
}

func (e *Engine) ListPatterns(ctx context.Context, storeRef string, limit int) ([]*storage.Pattern, error) {
	_, store, err := e.storeFor(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	return e.memories.ListPatterns(ctx, store, limit)
}

func (e *Engine) storeFor(ctx context.Context, storeRef string) (string, storage.Store, error) {
	name, err := e.resolveStore(ctx, storeRef)
	if err != nil {
		return "", nil, err
	}
	store, err := e.router.Store(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return name, store, nil
}

// Close drains a running watcher, then releases every store handle
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.watcher
	e.mu.Unlock()

	if w != nil {
		if err := w.Stop(); err != nil && !errors.Is(err, watcher.ErrNotRunning) {
			e.logger.Warn().Err(err).Msg("failed to stop watcher")
		}
	}
	e.cancel()

	var errs []error
	if err := e.router.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
