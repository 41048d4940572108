package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/internal/federation"
	"github.com/dshills/nexus/internal/indexer"
	"github.com/dshills/nexus/internal/registry"
	"github.com/dshills/nexus/internal/searcher"
	"github.com/dshills/nexus/internal/storage"
	"github.com/dshills/nexus/internal/watcher"
	"github.com/dshills/nexus/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // No registered project with that name or path
	ErrorCodeIndexingInProgress = -32002 // Another full index of the store is running
	ErrorCodeAlreadyRegistered  = -32003 // Project name or root already registered
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeWatcherState       = -32005 // Watcher operation not valid in its current state
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// toolError classifies a domain error
func toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrProjectNotFound):
		return newMCPError(ErrorCodeProjectNotFound, message, data)
	case errors.Is(err, types.ErrProjectAlreadyRegistered):
		return newMCPError(ErrorCodeAlreadyRegistered, message, data)
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, message, data)
	case errors.Is(err, indexer.ErrIndexInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, message, data)
	case errors.Is(err, watcher.ErrAlreadyRunning), errors.Is(err, watcher.ErrNotRunning):
		return newMCPError(ErrorCodeWatcherState, message, data)
	case errors.Is(err, types.ErrInvalidScope), errors.Is(err, registry.ErrInvalidName):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// Response shapes

type fileResultJSON struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Chunks  int    `json:"chunks,omitempty"`
	Error   string `json:"error,omitempty"`
}

type hitJSON struct {
	Rank          int     `json:"rank"`
	ChunkID       int64   `json:"chunkId"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keywordScore,omitempty"`
	SemanticScore float64 `json:"similarity,omitempty"`
	Path          string  `json:"path"`
	Language      string  `json:"language,omitempty"`
	StartLine     int     `json:"startLine"`
	EndLine       int     `json:"endLine"`
	Symbol        string  `json:"symbol,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	Content       string  `json:"content"`
	Source        string  `json:"source,omitempty"`
}

func toHits(results []types.SearchResult) []hitJSON {
	hits := make([]hitJSON, len(results))
	for i, r := range results {
		h := hitJSON{
			Rank:          r.Rank,
			ChunkID:       r.ChunkID,
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Symbol:        r.Symbol,
			Kind:          string(r.Kind),
			Content:       r.Content,
			Source:        r.Source,
		}
		if r.File != nil {
			h.Path = r.File.Path
			h.Language = r.File.Language
			h.StartLine = r.File.StartLine
			h.EndLine = r.File.EndLine
		}
		hits[i] = h
	}
	return hits
}

// handleIndexFiles handles the index_files tool invocation
func (s *Server) handleIndexFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	root := getStringDefault(args, "root", "")
	if root == "" {
		return nil, missingParam("root")
	}
	if !filepath.IsAbs(root) {
		return nil, newMCPError(ErrorCodeInvalidParams, "root must be absolute", map[string]interface{}{"param": "root"})
	}
	paths := getStringSlice(args, "paths")
	if len(paths) == 0 {
		return nil, missingParam("paths")
	}

	results, err := s.engine.IndexFiles(ctx, getStringDefault(args, "store", ""), paths, root, getIntDefault(args, "batch_size", 0))
	if err != nil {
		return nil, toolError("indexing failed", err)
	}

	var indexed, skipped, failed int
	out := make([]fileResultJSON, len(results))
	for i, res := range results {
		out[i] = fileResultJSON{Path: res.Path, Success: res.Success, Skipped: res.Skipped, Chunks: res.Chunks, Error: res.ErrorString()}
		switch {
		case res.Error != nil:
			failed++
		case res.Skipped:
			skipped++
		default:
			indexed++
		}
	}
	return textResult(map[string]interface{}{
		"results": out,
		"indexed": indexed,
		"skipped": skipped,
		"failed":  failed,
	}), nil
}

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name := getStringDefault(args, "project", "")
	if name == "" {
		return nil, missingParam("project")
	}

	stats, err := s.engine.IndexProject(ctx, name)
	if err != nil {
		return nil, toolError("indexing failed", err)
	}

	response := map[string]interface{}{
		"files_indexed":      stats.FilesIndexed,
		"files_skipped":      stats.FilesSkipped,
		"files_failed":       stats.FilesFailed,
		"files_deleted":      stats.FilesDeleted,
		"chunks_created":     stats.ChunksCreated,
		"embeddings_created": stats.EmbeddingsCreated,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		// Include first few errors
		if n > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return textResult(response), nil
}

func searchOptions(args map[string]interface{}) (engine.SearchOptions, error) {
	opts := engine.SearchOptions{
		Limit:  getIntDefault(args, "limit", searcher.DefaultLimit),
		Offset: getIntDefault(args, "offset", 0),
		Mode:   searcher.Mode(getStringDefault(args, "mode", "")),
	}
	if opts.Limit < 1 || opts.Limit > searcher.MaxLimit {
		return opts, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": opts.Limit,
		})
	}
	if opts.Offset < 0 {
		return opts, newMCPError(ErrorCodeInvalidParams, "offset must not be negative", map[string]interface{}{"param": "offset"})
	}
	switch opts.Mode {
	case "", searcher.ModeKeyword, searcher.ModeSemantic, searcher.ModeHybrid, searcher.ModeSmart:
	default:
		return opts, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   opts.Mode,
			"allowed": []string{"keyword", "semantic", "hybrid", "smart"},
		})
	}

	if filters, ok := args["filters"].(map[string]interface{}); ok {
		opts.Project = getStringDefault(filters, "project", "")
		opts.Language = getStringDefault(filters, "language", "")
		opts.FilePattern = getStringDefault(filters, "file_pattern", "")
		for _, k := range getStringSlice(filters, "kinds") {
			opts.Kinds = append(opts.Kinds, types.Kind(k))
		}
		if v, ok := filters["min_score"].(float64); ok {
			opts.MinScore = v
		}
	}
	return opts, nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	query := getStringDefault(args, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	opts, err := searchOptions(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.engine.Search(ctx, getStringDefault(args, "store", ""), query, opts)
	if err != nil {
		return nil, toolError("search failed", err)
	}

	response := map[string]interface{}{
		"hits":             toHits(resp.Results),
		"totalHits":        resp.TotalResults,
		"processingTimeMs": resp.Duration.Milliseconds(),
		"mode":             resp.Mode,
		"cacheHit":         resp.CacheHit,
	}
	if resp.Mode != searcher.ModeKeyword || resp.Degraded {
		response["embeddingTimeMs"] = resp.EmbeddingTime.Milliseconds()
	}
	if resp.Degraded {
		response["degraded"] = true
		response["degradedReason"] = resp.DegradedReason
	}
	return textResult(response), nil
}

// handleFederatedQuery handles the federated_query tool invocation
func (s *Server) handleFederatedQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	query := getStringDefault(args, "query", "")
	if strings.TrimSpace(query) == "" {
		return nil, missingParam("query")
	}
	opts, err := searchOptions(args)
	if err != nil {
		return nil, err
	}
	req := federation.Request{
		Scope:   federation.Scope(getStringDefault(args, "scope", string(federation.ScopeAll))),
		Project: getStringDefault(args, "project", ""),
	}

	res, err := s.engine.FederatedQuery(ctx, query, req, opts)
	if err != nil {
		return nil, toolError("federated query failed", err)
	}

	skipped := make([]map[string]string, len(res.Skipped))
	for i, sk := range res.Skipped {
		skipped[i] = map[string]string{"source": sk.Source, "error": sk.Err.Error()}
	}
	return textResult(map[string]interface{}{
		"results":  toHits(res.Results),
		"sources":  res.Sources,
		"skipped":  skipped,
		"partial":  res.Partial(),
		"degraded": res.Degraded,
	}), nil
}

// handleWatcherStart handles the watcher_start tool invocation
func (s *Server) handleWatcherStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	root := getStringDefault(args, "root", "")
	if root == "" {
		return nil, missingParam("root")
	}

	opts := engine.WatchOptions{
		Store:    getStringDefault(args, "store", ""),
		Root:     root,
		Debounce: time.Duration(getIntDefault(args, "debounce_ms", 0)) * time.Millisecond,
		Patterns: getStringSlice(args, "patterns"),
	}
	if err := s.engine.WatcherStart(ctx, opts); err != nil {
		return nil, toolError("failed to start watcher", err)
	}
	return textResult(watcherStatusJSON(s.engine.WatcherStatus())), nil
}

// watcherControl builds the pause, resume and stop handlers
func (s *Server) watcherControl(op func() error) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := op(); err != nil {
			return nil, toolError("watcher operation failed", err)
		}
		return textResult(watcherStatusJSON(s.engine.WatcherStatus())), nil
	}
}

func (s *Server) handleWatcherStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(watcherStatusJSON(s.engine.WatcherStatus())), nil
}

func watcherStatusJSON(st engine.WatcherStatus) map[string]interface{} {
	out := map[string]interface{}{
		"status":        st.Status.Status,
		"isPaused":      st.IsPaused,
		"queuedFiles":   st.QueuedFiles,
		"watchedPaths":  st.WatchedPaths,
		"uptimeSeconds": st.UptimeSeconds,
		"flushCount":    st.FlushCount,
		"rescanPending": st.RescanPending,
	}
	if st.SessionID != "" {
		out["sessionId"] = st.SessionID
		out["store"] = st.Store
	}
	if !st.LastFlushAt.IsZero() {
		out["lastFlushAt"] = st.LastFlushAt.Format(time.RFC3339)
	}
	return out
}

// handleRegisterProject handles the register_project tool invocation
func (s *Server) handleRegisterProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name := getStringDefault(args, "name", "")
	if name == "" {
		return nil, missingParam("name")
	}
	root := getStringDefault(args, "root", "")
	if root == "" {
		return nil, missingParam("root")
	}

	p, err := s.engine.RegisterProject(ctx, name, root, getStringDefault(args, "description", ""))
	if err != nil {
		return nil, toolError("failed to register project", err)
	}
	return textResult(p), nil
}

// handleDetectProject handles the detect_project tool invocation. No match
// is a regular result, not an error.
func (s *Server) handleDetectProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := getStringDefault(arguments(request), "path", "")
	if path == "" {
		return nil, missingParam("path")
	}

	p, err := s.engine.DetectProject(ctx, path)
	if errors.Is(err, types.ErrProjectNotFound) {
		return textResult(map[string]interface{}{"found": false, "path": path}), nil
	}
	if err != nil {
		return nil, toolError("failed to detect project", err)
	}
	return textResult(map[string]interface{}{"found": true, "project": p}), nil
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.engine.ListProjects(ctx)
	if err != nil {
		return nil, toolError("failed to list projects", err)
	}
	return textResult(map[string]interface{}{"projects": projects}), nil
}

func (s *Server) handleUpdateStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := getStringDefault(arguments(request), "name", "")
	if name == "" {
		return nil, missingParam("name")
	}
	p, err := s.engine.UpdateStats(ctx, name)
	if err != nil {
		return nil, toolError("failed to update stats", err)
	}
	return textResult(p), nil
}

func (s *Server) handleRemoveProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := getStringDefault(arguments(request), "name", "")
	if name == "" {
		return nil, missingParam("name")
	}
	if err := s.engine.RemoveProject(ctx, name); err != nil {
		return nil, toolError("failed to remove project", err)
	}
	return textResult(map[string]interface{}{"removed": name}), nil
}

// handleAddMemory handles the add_memory tool invocation
func (s *Server) handleAddMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	content := getStringDefault(args, "content", "")
	if strings.TrimSpace(content) == "" {
		return nil, missingParam("content")
	}

	m := &storage.Memory{
		Type:    getStringDefault(args, "type", ""),
		Content: content,
		Tags:    getStringSlice(args, "tags"),
	}
	if err := s.engine.AddMemory(ctx, getStringDefault(args, "store", ""), m, getIntDefault(args, "max_tokens", 0)); err != nil {
		return nil, toolError("failed to add memory", err)
	}
	return textResult(map[string]interface{}{
		"id":         m.ID,
		"tokenCount": m.TokenCount,
		"content":    m.Content,
	}), nil
}

func (s *Server) handleSearchMemories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	memories, err := s.engine.SearchMemories(ctx, getStringDefault(args, "store", ""), getStringDefault(args, "query", ""), getIntDefault(args, "limit", 10))
	if err != nil {
		return nil, toolError("failed to search memories", err)
	}

	out := make([]map[string]interface{}, len(memories))
	for i, m := range memories {
		out[i] = map[string]interface{}{
			"id":        m.ID,
			"type":      m.Type,
			"content":   m.Content,
			"tags":      m.Tags,
			"score":     m.Score,
			"createdAt": m.CreatedAt.Format(time.RFC3339),
		}
	}
	return textResult(map[string]interface{}{"memories": out}), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := getStringDefault(arguments(request), "store", "")
	stats, err := s.engine.Stats(ctx, store)
	if err != nil {
		return nil, toolError("failed to get status", err)
	}

	if store == "" {
		store = engine.GlobalStore
	}
	return textResult(map[string]interface{}{
		"store": store,
		"statistics": map[string]interface{}{
			"files_count":      stats.Files,
			"chunks_count":     stats.Chunks,
			"embeddings_count": stats.Embeddings,
			"memories_count":   stats.Memories,
			"patterns_count":   stats.Patterns,
			"languages":        stats.Languages,
			"index_size_mb":    fmt.Sprintf("%.2f", float64(stats.SizeBytes)/(1024*1024)),
		},
		"watcher": watcherStatusJSON(s.engine.WatcherStatus()),
	}), nil
}

// Helper functions

func textResult(data interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(data))
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter; non-string items are
// dropped
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
