package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterProject(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	root := t.TempDir()

	p, err := r.RegisterProject(ctx, "api", root, "HTTP API")
	require.NoError(t, err)
	assert.Equal(t, "api", p.Name)
	assert.Equal(t, root, p.RootPath)
	assert.Equal(t, "HTTP API", p.Description)
	assert.Positive(t, p.ID)
	assert.Nil(t, p.LastIndexedAt)

	// The store exists with its schema before RegisterProject returns
	_, err = os.Stat(p.StorePath)
	require.NoError(t, err)
	store, err := storage.Open(p.StorePath)
	require.NoError(t, err)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	require.NoError(t, store.Close())
}

func TestRegisterProjectDuplicates(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	root := t.TempDir()

	_, err := r.RegisterProject(ctx, "api", root, "")
	require.NoError(t, err)

	_, err = r.RegisterProject(ctx, "api", t.TempDir(), "")
	assert.ErrorIs(t, err, types.ErrProjectAlreadyRegistered)

	_, err = r.RegisterProject(ctx, "other", root, "")
	assert.ErrorIs(t, err, types.ErrProjectAlreadyRegistered)

	projects, err := r.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestRegisterProjectInvalidName(t *testing.T) {
	r := setupRegistry(t)
	for _, name := range []string{"", "../escape", "a/b", GlobalStoreName, ".hidden"} {
		_, err := r.RegisterProject(context.Background(), name, t.TempDir(), "")
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	r := setupRegistry(t)
	_, err := r.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
}

func TestListProjectsOrdered(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.RegisterProject(ctx, name, t.TempDir(), "")
		require.NoError(t, err)
	}

	projects, err := r.ListProjects(ctx)
	require.NoError(t, err)
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestDetectProjectLongestPrefix(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	base := t.TempDir()
	a := filepath.Join(base, "a")
	ab := filepath.Join(a, "b")

	_, err := r.RegisterProject(ctx, "outer", a, "")
	require.NoError(t, err)
	_, err = r.RegisterProject(ctx, "inner", ab, "")
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{filepath.Join(ab, "c", "file.ts"), "inner"},
		{ab, "inner"},
		{a, "outer"},
		{filepath.Join(a, "other", "x.go"), "outer"},
		{filepath.Join(base, "ab"), ""},
		{filepath.Join(a+"b", "x.go"), ""},
	}
	for _, tt := range tests {
		p, err := r.DetectProject(ctx, tt.path)
		if tt.want == "" {
			assert.ErrorIs(t, err, types.ErrProjectNotFound, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, p.Name, tt.path)
	}
}

func TestUpdateStats(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	_, err := r.RegisterProject(ctx, "api", t.TempDir(), "")
	require.NoError(t, err)

	store, err := r.OpenStore(ctx, "api")
	require.NoError(t, err)
	file := &storage.File{Path: "main.go", ContentHash: "h", ModTime: time.Now()}
	require.NoError(t, store.UpsertFile(ctx, file))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertChunk(ctx, &storage.Chunk{FileID: file.ID, StartLine: i + 1, EndLine: i + 1, Content: "x"}))
	}
	require.NoError(t, store.AddMemory(ctx, &storage.Memory{Content: "remember this"}))
	r.ReleaseStore("api")

	p, err := r.UpdateStats(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 1, p.FileCount)
	assert.Equal(t, 3, p.ChunkCount)
	assert.Equal(t, 1, p.MemoryCount)
	assert.Equal(t, 0, p.PatternCount)
	require.NotNil(t, p.LastIndexedAt)

	_, err = r.UpdateStats(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
}

func TestAdjustStats(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	_, err := r.RegisterProject(ctx, "api", t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, r.AdjustStats(ctx, "api", StatsDelta{Files: 2, Chunks: 10, Memories: 1, Patterns: 1}))
	require.NoError(t, r.AdjustStats(ctx, "api", StatsDelta{Files: -1, Chunks: -20}))

	p, err := r.GetProject(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 1, p.FileCount)
	assert.Equal(t, 0, p.ChunkCount)
	assert.Equal(t, 1, p.MemoryCount)
	assert.Equal(t, 1, p.PatternCount)

	err = r.AdjustStats(ctx, "missing", StatsDelta{Files: 1})
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
}

func TestStoreHandlesAreShared(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	_, err := r.RegisterProject(ctx, "api", t.TempDir(), "")
	require.NoError(t, err)

	first, err := r.OpenStore(ctx, "api")
	require.NoError(t, err)
	second, err := r.OpenStore(ctx, "api")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"api"}, r.OpenHandles())

	r.ReleaseStore("api")
	assert.Equal(t, []string{"api"}, r.OpenHandles())

	// Still usable while one reference remains
	_, err = second.Stats(ctx)
	require.NoError(t, err)

	r.ReleaseStore("api")
	assert.Empty(t, r.OpenHandles())

	// Releasing an unknown handle is a no-op
	r.ReleaseStore("api")
}

func TestGlobalStore(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	store, err := r.GlobalStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.DataDir(), "global.db"), store.Path())
	r.ReleaseStore(GlobalStoreName)
}

func TestOpenStoreUnknownProject(t *testing.T) {
	r := setupRegistry(t)
	_, err := r.OpenStore(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
	assert.Empty(t, r.OpenHandles())
}

func TestRemoveProject(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	root := t.TempDir()
	p, err := r.RegisterProject(ctx, "api", root, "")
	require.NoError(t, err)

	_, err = r.OpenStore(ctx, "api")
	require.NoError(t, err)

	require.NoError(t, r.RemoveProject(ctx, "api"))
	assert.Empty(t, r.OpenHandles())

	for _, suffix := range []string{"", "-wal", "-shm"} {
		_, err := os.Stat(p.StorePath + suffix)
		assert.True(t, os.IsNotExist(err), suffix)
	}

	_, err = r.GetProject(ctx, "api")
	assert.ErrorIs(t, err, types.ErrProjectNotFound)

	// The name and root are free again
	_, err = r.RegisterProject(ctx, "api", root, "")
	require.NoError(t, err)

	assert.ErrorIs(t, r.RemoveProject(ctx, "missing"), types.ErrProjectNotFound)
}

func TestRegistryPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r, err := Open(dir, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = r.RegisterProject(ctx, "api", t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = Open(dir, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	p, err := r.GetProject(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "api", p.Name)
}

func TestClosedRegistry(t *testing.T) {
	r, err := Open(t.TempDir(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = r.GlobalStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Empty(t, r.OpenHandles())

	_, err = r.GlobalStore(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close())
}
