package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

const (
	// GlobalStoreName addresses the shared store in OpenStore/ReleaseStore
	GlobalStoreName = "global"

	registryFile = "registry.db"
	globalFile   = "global.db"
	projectsDir  = "projects"
)

var (
	// ErrInvalidName is returned for project names that are not usable as
	// file names
	ErrInvalidName = errors.New("invalid project name")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("registry closed")

	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Project is a registered root and its aggregate statistics
type Project struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	RootPath      string     `json:"rootPath"`
	Description   string     `json:"description,omitempty"`
	StorePath     string     `json:"storePath"`
	FileCount     int        `json:"fileCount"`
	ChunkCount    int        `json:"chunkCount"`
	MemoryCount   int        `json:"memoryCount"`
	PatternCount  int        `json:"patternCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastIndexedAt *time.Time `json:"lastIndexedAt,omitempty"`
}

// StatsDelta is an incremental change to a project's counters
type StatsDelta struct {
	Files    int
	Chunks   int
	Memories int
	Patterns int
}

// handle is a shared, reference-counted store
type handle struct {
	store storage.Store
	refs  int
}

// Registry maps project names and roots to isolated stores. It is the
// only component that opens store files; callers borrow handles with
// OpenStore/GlobalStore and return them with ReleaseStore.
type Registry struct {
	dataDir string
	db      *sql.DB
	logger  zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Open opens or creates the registry under dataDir
func Open(dataDir string, opts ...Option) (*Registry, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, projectsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := storage.OpenDB(filepath.Join(dataDir, registryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if err := storage.ApplyMigrations(context.Background(), db, registryMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply registry migrations: %w", err)
	}

	r := &Registry{
		dataDir: dataDir,
		db:      db,
		logger:  log.Logger,
		handles: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "registry").Logger()
	return r, nil
}

// DataDir returns the directory holding the registry and every store
func (r *Registry) DataDir() string {
	return r.dataDir
}

const projectColumns = `id, name, root_path, description, store_path, file_count, chunk_count,
	memory_count, pattern_count, created_at, updated_at, last_indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		p                Project
		created, updated int64
		lastIndexed      sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.Description, &p.StorePath,
		&p.FileCount, &p.ChunkCount, &p.MemoryCount, &p.PatternCount,
		&created, &updated, &lastIndexed)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(created)
	p.UpdatedAt = time.UnixMilli(updated)
	if lastIndexed.Valid {
		t := time.UnixMilli(lastIndexed.Int64)
		p.LastIndexedAt = &t
	}
	return &p, nil
}

// RegisterProject records a new project and creates its store with an
// initialized schema. Both the name and the root must be unused.
func (r *Registry) RegisterProject(ctx context.Context, name, rootPath, description string) (*Project, error) {
	if !validName.MatchString(name) || name == GlobalStoreName {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	var exists int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE name = ? OR root_path = ?`, name, root).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check project: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s (%s)", types.ErrProjectAlreadyRegistered, name, root)
	}

	storePath := filepath.Join(r.dataDir, projectsDir, name+".db")
	store, err := storage.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create project store: %w", err)
	}
	if err := store.Close(); err != nil {
		return nil, fmt.Errorf("failed to close project store: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (name, root_path, description, store_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, root, description, storePath, now, now)
	if err != nil {
		removeStoreFiles(storePath)
		return nil, fmt.Errorf("failed to register project: %w", err)
	}

	r.logger.Info().Str("project", name).Str("root", root).Msg("project registered")
	return r.getProject(ctx, name)
}

// GetProject returns a project by name
func (r *Registry) GetProject(ctx context.Context, name string) (*Project, error) {
	return r.getProject(ctx, name)
}

func (r *Registry) getProject(ctx context.Context, name string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrProjectNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name
func (r *Registry) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DetectProject returns the project whose root is path or its nearest
// registered ancestor. Deeper roots win over shallower ones.
func (r *Registry) DetectProject(ctx context.Context, path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	projects, err := r.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	byRoot := make(map[string]*Project, len(projects))
	for _, p := range projects {
		byRoot[p.RootPath] = p
	}

	for dir := abs; ; {
		if p, ok := byRoot[dir]; ok {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, fmt.Errorf("%w: no project contains %s", types.ErrProjectNotFound, abs)
}

// UpdateStats recomputes a project's counters from its store
func (r *Registry) UpdateStats(ctx context.Context, name string) (*Project, error) {
	store, err := r.OpenStore(ctx, name)
	if err != nil {
		return nil, err
	}
	stats, err := store.Stats(ctx)
	r.ReleaseStore(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	now := time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET file_count = ?, chunk_count = ?, memory_count = ?, pattern_count = ?,
		    last_indexed_at = ?, updated_at = ?
		WHERE name = ?
	`, stats.Files, stats.Chunks, stats.Memories, stats.Patterns, now, now, name)
	if err := affectedOne(res, err, name); err != nil {
		return nil, err
	}
	return r.getProject(ctx, name)
}

// AdjustStats applies an incremental change. Counters never go below 0.
func (r *Registry) AdjustStats(ctx context.Context, name string, delta StatsDelta) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET file_count = MAX(0, file_count + ?),
		    chunk_count = MAX(0, chunk_count + ?),
		    memory_count = MAX(0, memory_count + ?),
		    pattern_count = MAX(0, pattern_count + ?),
		    updated_at = ?
		WHERE name = ?
	`, delta.Files, delta.Chunks, delta.Memories, delta.Patterns, time.Now().UnixMilli(), name)
	return affectedOne(res, err, name)
}

func affectedOne(res sql.Result, err error, name string) error {
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrProjectNotFound, name)
	}
	return nil
}

// RemoveProject closes any open handle, deletes the project's store files
// and removes its record
func (r *Registry) RemoveProject(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.getProject(ctx, name)
	if err != nil {
		return err
	}

	if h, ok := r.handles[name]; ok {
		if err := h.store.Close(); err != nil {
			r.logger.Warn().Err(err).Str("project", name).Msg("failed to close store")
		}
		delete(r.handles, name)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	removeStoreFiles(p.StorePath)

	r.logger.Info().Str("project", name).Msg("project removed")
	return nil
}

// removeStoreFiles deletes a store and its write-ahead log files
func removeStoreFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path+suffix).Msg("failed to remove store file")
		}
	}
}

// OpenStore borrows the store of a project. Every successful call must be
// paired with ReleaseStore.
func (r *Registry) OpenStore(ctx context.Context, name string) (storage.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	if h, ok := r.handles[name]; ok {
		h.refs++
		return h.store, nil
	}

	var path string
	if name == GlobalStoreName {
		path = filepath.Join(r.dataDir, globalFile)
	} else {
		p, err := r.getProject(ctx, name)
		if err != nil {
			return nil, err
		}
		path = p.StorePath
	}

	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	r.handles[name] = &handle{store: store, refs: 1}
	r.logger.Debug().Str("store", name).Msg("store opened")
	return store, nil
}

// GlobalStore borrows the shared store
func (r *Registry) GlobalStore(ctx context.Context) (storage.Store, error) {
	return r.OpenStore(ctx, GlobalStoreName)
}

// ReleaseStore returns a borrowed handle; the last release closes it
func (r *Registry) ReleaseStore(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[name]
	if !ok {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	if err := h.store.Close(); err != nil {
		r.logger.Warn().Err(err).Str("store", name).Msg("failed to close store")
	}
	delete(r.handles, name)
	r.logger.Debug().Str("store", name).Msg("store closed")
}

// OpenHandles returns the names of stores that are currently open
func (r *Registry) OpenHandles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}

// Close closes every open store and the registry database
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []string
	for name, h := range r.handles {
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		delete(r.handles, name)
	}
	if err := r.db.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("registry: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close registry: %s", strings.Join(errs, "; "))
	}
	return nil
}
