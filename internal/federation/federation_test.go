package federation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/internal/registry"
	"github.com/dshills/nexus/internal/searcher"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/pkg/types"
)

// fakeProvider serves in-memory stores and counts opens and releases
type fakeProvider struct {
	mu       sync.Mutex
	stores   map[string]*storage.SQLiteStore
	projects []string
	failing  map[string]bool
	opens    map[string]int
	releases map[string]int
}

func newFakeProvider(t *testing.T, projects ...string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		stores:   make(map[string]*storage.SQLiteStore),
		projects: projects,
		failing:  make(map[string]bool),
		opens:    make(map[string]int),
		releases: make(map[string]int),
	}
	for _, name := range append([]string{registry.GlobalStoreName}, projects...) {
		s, err := storage.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		p.stores[name] = s
	}
	return p
}

func (p *fakeProvider) GlobalStore(ctx context.Context) (storage.Store, error) {
	return p.OpenStore(ctx, registry.GlobalStoreName)
}

func (p *fakeProvider) OpenStore(_ context.Context, name string) (storage.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[name] {
		return nil, errors.New("disk unreachable")
	}
	s, ok := p.stores[name]
	if !ok {
		return nil, types.ErrProjectNotFound
	}
	p.opens[name]++
	return s, nil
}

func (p *fakeProvider) ReleaseStore(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[name]++
}

func (p *fakeProvider) ListProjects(context.Context) ([]*registry.Project, error) {
	out := make([]*registry.Project, len(p.projects))
	for i, name := range p.projects {
		out[i] = &registry.Project{Name: name}
	}
	return out, nil
}

// seed stores one chunk with the given content in a store
func seed(t *testing.T, p *fakeProvider, name, path, content string) {
	t.Helper()
	ctx := context.Background()
	s := p.stores[name]
	file := &storage.File{Path: path, ContentHash: "h-" + path, ModTime: time.Now()}
	require.NoError(t, s.UpsertFile(ctx, file))
	require.NoError(t, s.InsertChunk(ctx, &storage.Chunk{FileID: file.ID, StartLine: 1, EndLine: 1, Content: content}))
}

func newRouter(p *fakeProvider) *Router {
	return New(p, WithLogger(zerolog.Nop()))
}

func TestResolve(t *testing.T) {
	p := newFakeProvider(t, "alpha", "beta")
	r := newRouter(p)
	ctx := context.Background()

	tests := []struct {
		req  Request
		want []string
	}{
		{Request{Scope: ScopeGlobal}, []string{"global"}},
		{Request{Scope: ScopeGlobal, Project: "alpha"}, []string{"global"}},
		{Request{Scope: ScopeRepo, Project: "alpha"}, []string{"alpha"}},
		{Request{Scope: ScopeBranch, Project: "beta"}, []string{"beta"}},
		{Request{Scope: ScopeTicket}, []string{"alpha", "beta"}},
		{Request{Scope: ScopeFeature}, []string{"alpha", "beta"}},
		{Request{Scope: ScopeAll}, []string{"global", "alpha", "beta"}},
		{Request{}, []string{"global", "alpha", "beta"}},
	}
	for _, tt := range tests {
		got, err := r.Resolve(ctx, tt.req)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%+v", tt.req)
	}

	_, err := r.Resolve(ctx, Request{Scope: "galaxy"})
	assert.ErrorIs(t, err, types.ErrInvalidScope)
}

func TestSearchAllScopesWithProvenance(t *testing.T) {
	p := newFakeProvider(t, "alpha", "beta")
	seed(t, p, "global", "shared.md", "retry policy shared")
	seed(t, p, "alpha", "a.go", "retry policy alpha")
	seed(t, p, "beta", "b.go", "retry policy beta")
	seed(t, p, "beta", "c.go", "retry backoff")
	r := newRouter(p)
	defer func() { _ = r.Close() }()

	res, err := r.Search(context.Background(), "retry", Request{Scope: ScopeAll}, searcher.SearchRequest{Mode: searcher.ModeKeyword})
	require.NoError(t, err)

	assert.False(t, res.Partial())
	assert.Len(t, res.Results, 4)
	assert.Equal(t, 1, res.Sources.Global)
	assert.Equal(t, []ProjectCount{{Name: "alpha", Count: 1}, {Name: "beta", Count: 2}}, res.Sources.Projects)

	sources := make([]string, len(res.Results))
	for i, hit := range res.Results {
		sources[i] = hit.Source
		assert.Equal(t, i+1, hit.Rank)
	}
	sort.Strings(sources)
	assert.Equal(t, []string{"alpha", "beta", "beta", "global"}, sources)
}

func TestSearchSkipsUnavailableStore(t *testing.T) {
	p := newFakeProvider(t, "alpha", "beta")
	seed(t, p, "global", "shared.md", "retry shared")
	seed(t, p, "alpha", "a.go", "retry alpha")
	seed(t, p, "beta", "b.go", "retry beta")
	p.failing["beta"] = true
	r := newRouter(p)
	defer func() { _ = r.Close() }()

	res, err := r.Search(context.Background(), "retry", Request{Scope: ScopeAll}, searcher.SearchRequest{Mode: searcher.ModeKeyword})
	require.NoError(t, err)

	assert.True(t, res.Partial())
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "beta", res.Skipped[0].Source)
	assert.ErrorIs(t, res.Skipped[0], types.ErrStoreUnavailable)

	assert.Len(t, res.Results, 2)
	assert.Equal(t, 1, res.Sources.Global)
	assert.Equal(t, []ProjectCount{{Name: "alpha", Count: 1}}, res.Sources.Projects)
}

func TestQuerySkipsStoreErroringMidQuery(t *testing.T) {
	p := newFakeProvider(t, "alpha", "beta")
	r := newRouter(p)
	defer func() { _ = r.Close() }()

	res, err := r.Query(context.Background(), Request{Scope: ScopeRepo},
		func(_ context.Context, source string, _ storage.Store) ([]types.SearchResult, error) {
			if source == "alpha" {
				return nil, errors.New("database is locked")
			}
			return []types.SearchResult{{ChunkID: 7, Score: 1}}, nil
		})
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "alpha", res.Skipped[0].Source)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "beta", res.Results[0].Source)
	assert.Equal(t, 0, res.Sources.Global)
}

func TestQueryMergeOrder(t *testing.T) {
	p := newFakeProvider(t, "alpha", "beta")
	r := newRouter(p)
	defer func() { _ = r.Close() }()

	scores := map[string][]types.SearchResult{
		"global": {{ChunkID: 2, Score: 0.5}},
		"alpha":  {{ChunkID: 9, Score: 0.9}, {ChunkID: 1, Score: 0.5}},
		"beta":   {{ChunkID: 3, Score: 0.5}},
	}
	res, err := r.Query(context.Background(), Request{Scope: ScopeAll},
		func(_ context.Context, source string, _ storage.Store) ([]types.SearchResult, error) {
			return append([]types.SearchResult(nil), scores[source]...), nil
		})
	require.NoError(t, err)

	type key struct {
		source string
		id     int64
	}
	got := make([]key, len(res.Results))
	for i, hit := range res.Results {
		got[i] = key{hit.Source, hit.ChunkID}
	}
	assert.Equal(t, []key{{"alpha", 9}, {"alpha", 1}, {"beta", 3}, {"global", 2}}, got)
}

func TestSearchPagination(t *testing.T) {
	p := newFakeProvider(t, "alpha")
	seed(t, p, "global", "g1.md", "token")
	seed(t, p, "global", "g2.md", "token")
	seed(t, p, "alpha", "a1.go", "token")
	r := newRouter(p)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	first, err := r.Search(ctx, "token", Request{Scope: ScopeAll}, searcher.SearchRequest{Mode: searcher.ModeKeyword, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Results, 2)

	second, err := r.Search(ctx, "token", Request{Scope: ScopeAll}, searcher.SearchRequest{Mode: searcher.ModeKeyword, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, 3, second.Results[0].Rank)
}

func TestHandlesCachedUntilClose(t *testing.T) {
	p := newFakeProvider(t, "alpha")
	r := newRouter(p)
	ctx := context.Background()
	noop := func(context.Context, string, storage.Store) ([]types.SearchResult, error) { return nil, nil }

	for i := 0; i < 3; i++ {
		_, err := r.Query(ctx, Request{Scope: ScopeAll}, noop)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.opens["global"])
	assert.Equal(t, 1, p.opens["alpha"])
	assert.Zero(t, p.releases["alpha"])

	require.NoError(t, r.Close())
	assert.Equal(t, 1, p.releases["global"])
	assert.Equal(t, 1, p.releases["alpha"])

	// Closed routers skip every store
	res, err := r.Query(ctx, Request{Scope: ScopeGlobal}, noop)
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 1)
}

func TestForget(t *testing.T) {
	p := newFakeProvider(t, "alpha")
	r := newRouter(p)
	defer func() { _ = r.Close() }()
	noop := func(context.Context, string, storage.Store) ([]types.SearchResult, error) { return nil, nil }

	_, err := r.Query(context.Background(), Request{Scope: ScopeRepo, Project: "alpha"}, noop)
	require.NoError(t, err)

	r.Forget("alpha")
	assert.Equal(t, 1, p.releases["alpha"])

	_, err = r.Query(context.Background(), Request{Scope: ScopeRepo, Project: "alpha"}, noop)
	require.NoError(t, err)
	assert.Equal(t, 2, p.opens["alpha"])
}

func TestFederationWithRegistry(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.Open(t.TempDir(), registry.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	good, err := reg.RegisterProject(ctx, "good", t.TempDir(), "")
	require.NoError(t, err)
	broken, err := reg.RegisterProject(ctx, "broken", t.TempDir(), "")
	require.NoError(t, err)

	store, err := reg.OpenStore(ctx, good.Name)
	require.NoError(t, err)
	file := &storage.File{Path: "main.go", ContentHash: "h", ModTime: time.Now()}
	require.NoError(t, store.UpsertFile(ctx, file))
	require.NoError(t, store.InsertChunk(ctx, &storage.Chunk{FileID: file.ID, StartLine: 1, EndLine: 1, Content: "xyz123"}))
	reg.ReleaseStore(good.Name)

	// Corrupt the other store so it cannot be opened
	require.NoError(t, os.WriteFile(broken.StorePath, bytes.Repeat([]byte("not a database "), 512), 0o644))

	r := New(reg, WithLogger(zerolog.Nop()))
	res, err := r.Search(ctx, "xyz123", Request{Scope: ScopeAll}, searcher.SearchRequest{Mode: searcher.ModeKeyword})
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Equal(t, "good", res.Results[0].Source)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "broken", res.Skipped[0].Source)
	assert.Equal(t, []ProjectCount{{Name: "good", Count: 1}}, res.Sources.Projects)

	require.NoError(t, r.Close())
	assert.Empty(t, reg.OpenHandles())
}
