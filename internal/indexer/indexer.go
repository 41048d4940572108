package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/nexus/internal/chunker"
	"github.com/dshills/nexus/internal/embedder"
	"github.com/dshills/nexus/internal/hasher"
	"github.com/dshills/nexus/internal/ignore"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

const (
	// DefaultBatchSize is the number of files read and written per group
	DefaultBatchSize = 50

	// DefaultMaxFileSize is the largest file the indexer will read
	DefaultMaxFileSize = 1 << 20

	// binarySniffLen is how much of a file is scanned for NUL bytes
	binarySniffLen = 8192

	// embedBatchSize is the number of chunks vectorized per call
	embedBatchSize = 32
)

// ErrIndexInProgress is returned when a full index of the same store is
// already running
var ErrIndexInProgress = errors.New("indexing already in progress")

// Indexer keeps one store in step with the files under a root: read,
// hash, chunk and write, one transaction per changed file.
type Indexer struct {
	store    storage.Store
	hasher   *hasher.Hasher
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	logger   zerolog.Logger

	project     string
	absolute    bool
	maxFileSize int64
	batchSize   int
	workers     int
	ignoreFiles []string
	patterns    []string

	// writeMu serializes writers; a store accepts one at a time
	writeMu sync.Mutex
	lock    IndexLock
}

// Option configures an Indexer
type Option func(*Indexer)

// WithHasher sets the content hasher. A fresh one initializes lazily.
func WithHasher(h *hasher.Hasher) Option {
	return func(idx *Indexer) {
		idx.hasher = h
	}
}

// WithChunker sets the chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(idx *Indexer) {
		idx.chunker = c
	}
}

// WithEmbedder enables the embedding backfill after indexing passes
func WithEmbedder(e embedder.Embedder) Option {
	return func(idx *Indexer) {
		idx.embedder = e
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(idx *Indexer) {
		idx.logger = logger
	}
}

// WithProject tags every file record written by this indexer
func WithProject(name string) Option {
	return func(idx *Indexer) {
		idx.project = name
	}
}

// WithAbsolutePaths keys file records by absolute path instead of the
// path relative to the root. A store fed from several roots needs it.
func WithAbsolutePaths() Option {
	return func(idx *Indexer) {
		idx.absolute = true
	}
}

// WithMaxFileSize sets the size above which files are rejected
func WithMaxFileSize(n int64) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.maxFileSize = n
		}
	}
}

// WithBatchSize sets the group size used when a caller passes 0
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithWorkers bounds how many files of a group are read concurrently
func WithWorkers(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithIgnore sets the ignore files (relative to the root) and extra
// patterns used by project walks
func WithIgnore(files []string, patterns []string) Option {
	return func(idx *Indexer) {
		idx.ignoreFiles = files
		idx.patterns = patterns
	}
}

// Statistics contains statistics about an indexing pass
type Statistics struct {
	FilesIndexed      int
	FilesSkipped      int
	FilesFailed       int
	FilesDeleted      int
	ChunksCreated     int
	EmbeddingsCreated int
	Duration          time.Duration
	ErrorMessages     []string
}

// New creates an Indexer writing to store
func New(store storage.Store, opts ...Option) *Indexer {
	idx := &Indexer{
		store:       store,
		logger:      log.Logger,
		maxFileSize: DefaultMaxFileSize,
		batchSize:   DefaultBatchSize,
		workers:     runtime.NumCPU(),
		ignoreFiles: []string{".gitignore", ".nexusignore"},
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.hasher == nil {
		idx.hasher = hasher.New()
	}
	if idx.chunker == nil {
		idx.chunker = chunker.New()
	}
	idx.logger = idx.logger.With().Str("component", "indexer").Logger()
	return idx
}

// Store returns the store this indexer writes to
func (idx *Indexer) Store() storage.Store {
	return idx.store
}

// pending is a file that was read and chunked and still has to be written
type pending struct {
	rel      string
	digest   hasher.Digest
	info     os.FileInfo
	language string
	chunks   []types.Chunk
	skipped  bool
}

// UpdateFiles re-indexes the given files. Paths may be absolute or relative
// to root. Each file gets its own result; a failing file never stops the
// rest. Files are handled in groups of batchSize, one group at a time.
func (idx *Indexer) UpdateFiles(ctx context.Context, paths []string, root string, batchSize int) []types.FileResult {
	if batchSize <= 0 {
		batchSize = idx.batchSize
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	results := make([]types.FileResult, 0, len(paths))
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		results = append(results, idx.updateGroup(ctx, paths[start:end], root)...)
	}
	return results
}

// updateGroup reads a group concurrently, then writes it sequentially
func (idx *Indexer) updateGroup(ctx context.Context, paths []string, root string) []types.FileResult {
	results := make([]types.FileResult, len(paths))
	prepared := make([]*pending, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(idx.workers)
	for i, p := range paths {
		g.Go(func() error {
			abs, rel, err := resolve(root, p)
			if err != nil {
				results[i].Path = rel
				results[i].Error = err
				return nil
			}
			results[i].Path = idx.recordPath(abs, rel)
			prepared[i], results[i].Error = idx.prepare(ctx, abs, results[i].Path)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range prepared {
		res := &results[i]
		switch {
		case res.Error != nil:
		case ctx.Err() != nil:
			res.Error = ctx.Err()
		case p.skipped:
			res.Success = true
			res.Skipped = true
		default:
			res.Error = idx.write(ctx, p)
			if res.Error == nil {
				res.Success = true
				res.Chunks = len(p.chunks)
			}
		}
		if res.Error != nil {
			idx.logger.Warn().Err(res.Error).Str("path", res.Path).Msg("file not indexed")
		}
	}
	return results
}

// prepare reads, validates, hashes and chunks one file
func (idx *Indexer) prepare(ctx context.Context, abs, rel string) (*pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrReadFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", types.ErrReadFailure, rel)
	}
	if info.Size() > idx.maxFileSize {
		return nil, fmt.Errorf("%w: file too large (%d bytes)", types.ErrReadFailure, info.Size())
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrReadFailure, err)
	}
	if isBinary(content) {
		return nil, fmt.Errorf("%w: binary or non-UTF-8 content", types.ErrReadFailure)
	}

	digest, err := idx.hasher.SumAsync(ctx, content)
	if err != nil {
		return nil, err
	}

	p := &pending{rel: rel, digest: digest, info: info}

	existing, err := idx.store.GetFile(ctx, rel)
	switch {
	case err == nil && existing.ContentHash == string(digest):
		p.skipped = true
		return p, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up file: %w", err)
	}

	p.language = idx.chunker.DetectLanguage(rel)
	p.chunks = idx.chunker.Chunk(string(content), p.language)
	return p, nil
}

// write replaces a file's record and chunks in a single transaction
func (idx *Indexer) write(ctx context.Context, p *pending) error {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", types.ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	file := &storage.File{
		Path:        p.rel,
		ContentHash: string(p.digest),
		ModTime:     p.info.ModTime(),
		Size:        p.info.Size(),
		Language:    p.language,
		Project:     idx.project,
	}
	if err := tx.UpsertFile(ctx, file); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
	}

	if _, err := tx.DeleteChunksByFile(ctx, file.ID); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
	}

	for _, c := range p.chunks {
		chunk := &storage.Chunk{
			FileID:     file.ID,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Content:    c.Content,
			Symbol:     c.Symbol,
			Kind:       c.Kind,
			TokenCount: c.TokenCount,
		}
		if err := tx.InsertChunk(ctx, chunk); err != nil {
			return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", types.ErrStoreWrite, err)
	}
	return nil
}

// DeleteFiles removes the records of files that are gone from disk. A path
// with no exact record is treated as a removed directory and every record
// beneath it is deleted. Paths with nothing to delete succeed as skipped.
func (idx *Indexer) DeleteFiles(ctx context.Context, paths []string, root string) []types.FileResult {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	results := make([]types.FileResult, 0, len(paths))
	for _, p := range paths {
		abs, rel, err := resolve(root, p)
		res := types.FileResult{Path: rel, Error: err}
		if err == nil {
			res.Path = idx.recordPath(abs, rel)
			res.Skipped, res.Error = idx.deletePath(ctx, res.Path)
			res.Success = res.Error == nil
		}
		if res.Error != nil {
			idx.logger.Warn().Err(res.Error).Str("path", res.Path).Msg("file record not deleted")
		}
		results = append(results, res)
	}
	return results
}

func (idx *Indexer) deletePath(ctx context.Context, rel string) (bool, error) {
	file, err := idx.store.GetFile(ctx, rel)
	if err == nil {
		if err := idx.store.DeleteFile(ctx, file.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
		}
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("failed to look up file: %w", err)
	}

	files, err := idx.store.ListFiles(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list files: %w", err)
	}

	prefix := rel + "/"
	var doomed []int64
	for _, f := range files {
		if strings.HasPrefix(f.Path, prefix) {
			doomed = append(doomed, f.ID)
		}
	}
	if len(doomed) == 0 {
		return true, nil
	}

	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: failed to begin transaction: %w", types.ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range doomed {
		if err := tx.DeleteFile(ctx, id); err != nil {
			return false, fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: failed to commit transaction: %w", types.ErrStoreWrite, err)
	}
	return false, nil
}

// Sync routes each path by its state on disk: existing files are updated,
// existing directories are walked and vanished paths are deleted. It then
// backfills embeddings.
func (idx *Indexer) Sync(ctx context.Context, paths []string, root string) []types.FileResult {
	var updates, deletes []string
	for _, p := range paths {
		abs, _, err := resolve(root, p)
		if err != nil {
			updates = append(updates, p)
			continue
		}
		info, err := os.Stat(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			deletes = append(deletes, abs)
		case err == nil && info.IsDir():
			files, werr := idx.discover(ctx, root, abs)
			if werr != nil {
				idx.logger.Warn().Err(werr).Str("path", abs).Msg("failed to walk directory")
				continue
			}
			updates = append(updates, files...)
		default:
			updates = append(updates, abs)
		}
	}

	results := idx.UpdateFiles(ctx, updates, root, 0)
	results = append(results, idx.DeleteFiles(ctx, deletes, root)...)

	if _, err := idx.EmbedPending(ctx); err != nil {
		idx.logger.Warn().Err(err).Msg("embedding backfill failed")
	}
	return results
}

// IndexProject indexes every non-ignored file under root and removes the
// records of files that no longer exist
func (idx *Indexer) IndexProject(ctx context.Context, root string) (*Statistics, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	if !idx.lock.TryAcquire(root) {
		held, since, _ := idx.lock.Holder()
		return nil, fmt.Errorf("%w: %s since %s", ErrIndexInProgress, held, since.Format(time.RFC3339))
	}
	defer idx.lock.Release()

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, err := idx.discover(ctx, root, root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	seen := make(map[string]struct{}, len(files))
	for _, res := range idx.UpdateFiles(ctx, files, root, 0) {
		seen[res.Path] = struct{}{}
		switch {
		case res.Error != nil:
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", res.Path, res.Error))
		case res.Skipped:
			stats.FilesSkipped++
		default:
			stats.FilesIndexed++
			stats.ChunksCreated += res.Chunks
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := idx.store.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	var vanished []string
	for _, f := range records {
		if !idx.owns(root, f) {
			continue
		}
		if _, ok := seen[f.Path]; !ok {
			vanished = append(vanished, f.Path)
		}
	}
	for _, res := range idx.DeleteFiles(ctx, vanished, root) {
		if res.Error != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", res.Path, res.Error))
			continue
		}
		stats.FilesDeleted++
	}

	embedded, err := idx.EmbedPending(ctx)
	if err != nil {
		return nil, err
	}
	stats.EmbeddingsCreated = embedded
	stats.Duration = time.Since(start)

	idx.logger.Info().
		Str("root", root).
		Int("indexed", stats.FilesIndexed).
		Int("skipped", stats.FilesSkipped).
		Int("failed", stats.FilesFailed).
		Int("deleted", stats.FilesDeleted).
		Dur("duration", stats.Duration).
		Msg("project indexed")

	return stats, nil
}

// discover lists the regular, non-ignored files beneath dir
func (idx *Indexer) discover(ctx context.Context, root, dir string) ([]string, error) {
	matcher, err := ignore.Load(root, idx.ignoreFiles, idx.patterns)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			idx.logger.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		if matcher.Match(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// EmbedPending vectorizes chunks that have no embedding yet. Provider
// failures are logged and leave the remaining chunks without vectors.
func (idx *Indexer) EmbedPending(ctx context.Context) (int, error) {
	if idx.embedder == nil {
		return 0, nil
	}

	total := 0
	for {
		chunks, err := idx.store.ListChunksWithoutEmbedding(ctx, embedBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list chunks without embeddings: %w", err)
		}
		if len(chunks) == 0 {
			return total, nil
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			idx.logger.Warn().Err(err).Int("chunks", len(chunks)).Msg("embedding failed, chunks left without vectors")
			return total, nil
		}
		if len(resp.Embeddings) != len(chunks) {
			idx.logger.Warn().
				Int("chunks", len(chunks)).
				Int("embeddings", len(resp.Embeddings)).
				Msg("embedding count mismatch, chunks left without vectors")
			return total, nil
		}

		for i, c := range chunks {
			emb := &storage.Embedding{
				ChunkID:   c.ID,
				Vector:    resp.Embeddings[i].Vector,
				Dimension: len(resp.Embeddings[i].Vector),
				Provider:  idx.embedder.Provider(),
			}
			if err := idx.store.UpsertEmbedding(ctx, emb); err != nil {
				return total, fmt.Errorf("failed to store embedding: %w", err)
			}
		}
		total += len(chunks)

		if len(chunks) < embedBatchSize {
			return total, nil
		}
	}
}

// StoreJob is one store's share of a multi-store indexing pass
type StoreJob struct {
	Name      string
	Indexer   *Indexer
	Paths     []string
	Root      string
	BatchSize int
}

// RunStores runs UpdateFiles for each job. Jobs on different stores run
// concurrently; jobs sharing an Indexer are serialized by it.
func RunStores(ctx context.Context, jobs []StoreJob) map[string][]types.FileResult {
	var mu sync.Mutex
	out := make(map[string][]types.FileResult, len(jobs))

	g := new(errgroup.Group)
	for _, job := range jobs {
		g.Go(func() error {
			res := job.Indexer.UpdateFiles(ctx, job.Paths, job.Root, job.BatchSize)
			mu.Lock()
			out[job.Name] = append(out[job.Name], res...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// recordPath is the key a file is stored under
func (idx *Indexer) recordPath(abs, rel string) string {
	if idx.absolute {
		return filepath.ToSlash(abs)
	}
	return rel
}

// owns reports whether a record belongs to a walk of root. Records keyed by
// absolute path belong to the walk only when they sit beneath root.
func (idx *Indexer) owns(root string, f *storage.File) bool {
	if f.Project != idx.project {
		return false
	}
	if !idx.absolute {
		return true
	}
	return strings.HasPrefix(f.Path, strings.TrimSuffix(filepath.ToSlash(root), "/")+"/")
}

// resolve returns the absolute path and the slash-separated path relative
// to root. Paths outside root are a read failure.
func resolve(root, p string) (string, string, error) {
	if r, err := filepath.Abs(root); err == nil {
		root = r
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, p)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs, filepath.ToSlash(p), fmt.Errorf("%w: %s is outside %s", types.ErrReadFailure, p, root)
	}
	return abs, filepath.ToSlash(rel), nil
}

// isBinary reports a NUL byte in the leading window or invalid UTF-8
func isBinary(content []byte) bool {
	head := content
	if len(head) > binarySniffLen {
		head = head[:binarySniffLen]
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(content)
}
