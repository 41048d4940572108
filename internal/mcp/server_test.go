package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/internal/config"
	"github.com/dshills/nexus/internal/engine"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Watch.Debounce = 50 * time.Millisecond

	eng, err := engine.New(cfg, engine.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewServer(eng, WithLogger(zerolog.Nop()))
}

func call(t *testing.T, h handler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	res, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func writeProject(t *testing.T) (string, []interface{}) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":  "package main\n\nfunc main() { serve() }\n",
		"serve.go": "package main\n\n// serve starts the xyz123 listener\nfunc serve() {}\n",
	}
	var paths []interface{}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		paths = append(paths, path)
	}
	return root, paths
}

func TestProjectAndSearchTools(t *testing.T) {
	s := newTestServer(t)
	root, paths := writeProject(t)

	out, err := call(t, s.handleRegisterProject, map[string]interface{}{"name": "demo", "root": root})
	require.NoError(t, err)
	assert.Equal(t, "demo", out["name"])

	_, err = call(t, s.handleRegisterProject, map[string]interface{}{"name": "demo", "root": root})
	requireCode(t, err, ErrorCodeAlreadyRegistered)

	out, err = call(t, s.handleIndexFiles, map[string]interface{}{"store": "demo", "root": root, "paths": paths})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["indexed"])
	assert.EqualValues(t, 0, out["failed"])

	out, err = call(t, s.handleSearch, map[string]interface{}{"store": "demo", "query": "xyz123", "mode": "keyword"})
	require.NoError(t, err)
	hits := out["hits"].([]interface{})
	require.Len(t, hits, 1)
	hit := hits[0].(map[string]interface{})
	assert.Equal(t, "serve.go", hit["path"])
	assert.Equal(t, "demo", hit["source"])
	assert.EqualValues(t, 1, out["totalHits"])
	assert.Contains(t, out, "processingTimeMs")

	out, err = call(t, s.handleSearch, map[string]interface{}{"store": "demo", "query": "xyz123", "mode": "hybrid"})
	require.NoError(t, err)
	assert.Contains(t, out, "embeddingTimeMs")

	out, err = call(t, s.handleDetectProject, map[string]interface{}{"path": filepath.Join(root, "serve.go")})
	require.NoError(t, err)
	assert.Equal(t, true, out["found"])

	out, err = call(t, s.handleDetectProject, map[string]interface{}{"path": t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, false, out["found"])

	out, err = call(t, s.handleUpdateStats, map[string]interface{}{"name": "demo"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["fileCount"])

	out, err = call(t, s.handleListProjects, nil)
	require.NoError(t, err)
	assert.Len(t, out["projects"], 1)

	out, err = call(t, s.handleGetStatus, map[string]interface{}{"store": "demo"})
	require.NoError(t, err)
	stats := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["files_count"])

	_, err = call(t, s.handleRemoveProject, map[string]interface{}{"name": "demo"})
	require.NoError(t, err)
	_, err = call(t, s.handleSearch, map[string]interface{}{"store": "demo", "query": "xyz123"})
	requireCode(t, err, ErrorCodeProjectNotFound)
}

func TestSearchValidation(t *testing.T) {
	s := newTestServer(t)

	_, err := call(t, s.handleSearch, map[string]interface{}{"query": "  "})
	requireCode(t, err, ErrorCodeEmptyQuery)

	_, err = call(t, s.handleSearch, map[string]interface{}{"query": "x", "limit": float64(500)})
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleSearch, map[string]interface{}{"query": "x", "mode": "vector"})
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleFederatedQuery, map[string]interface{}{"query": "x", "scope": "galaxy"})
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleIndexFiles, map[string]interface{}{"root": "relative/dir", "paths": []interface{}{"a.go"}})
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleIndexProject, map[string]interface{}{"project": "ghost"})
	requireCode(t, err, ErrorCodeProjectNotFound)
}

func TestFederatedQueryTool(t *testing.T) {
	s := newTestServer(t)
	root, paths := writeProject(t)

	_, err := call(t, s.handleRegisterProject, map[string]interface{}{"name": "demo", "root": root})
	require.NoError(t, err)
	_, err = call(t, s.handleIndexFiles, map[string]interface{}{"store": "demo", "root": root, "paths": paths})
	require.NoError(t, err)
	_, err = call(t, s.handleIndexFiles, map[string]interface{}{"root": root, "paths": paths[:1]})
	require.NoError(t, err)

	out, err := call(t, s.handleFederatedQuery, map[string]interface{}{"query": "serve", "scope": "all", "mode": "keyword"})
	require.NoError(t, err)
	sources := out["sources"].(map[string]interface{})
	assert.EqualValues(t, 1, sources["global"])
	projects := sources["projects"].([]interface{})
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].(map[string]interface{})["name"])
	assert.Equal(t, false, out["partial"])
}

func TestWatcherTools(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()

	_, err := call(t, s.watcherControl(s.engine.WatcherPause), nil)
	requireCode(t, err, ErrorCodeWatcherState)

	out, err := call(t, s.handleWatcherStart, map[string]interface{}{"root": root, "debounce_ms": float64(20)})
	require.NoError(t, err)
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "global", out["store"])

	out, err = call(t, s.watcherControl(s.engine.WatcherPause), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["isPaused"])

	out, err = call(t, s.watcherControl(s.engine.WatcherResume), nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["isPaused"])

	out, err = call(t, s.watcherControl(s.engine.WatcherStop), nil)
	require.NoError(t, err)
	assert.Equal(t, "stopped", out["status"])

	out, err = call(t, s.handleWatcherStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, "stopped", out["status"])
}

func TestMemoryTools(t *testing.T) {
	s := newTestServer(t)

	out, err := call(t, s.handleAddMemory, map[string]interface{}{
		"content":    "rotate the signing keys before the quarterly audit",
		"tags":       []interface{}{"security"},
		"max_tokens": float64(5),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out["id"])
	assert.LessOrEqual(t, len(out["content"].(string)), 20)

	out, err = call(t, s.handleSearchMemories, map[string]interface{}{"query": "rotate"})
	require.NoError(t, err)
	assert.Len(t, out["memories"], 1)

	_, err = call(t, s.handleAddMemory, map[string]interface{}{"content": ""})
	requireCode(t, err, ErrorCodeInvalidParams)
}
