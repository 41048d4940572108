// Package mcp implements the Model Context Protocol (MCP) server for Nexus.
//
// The server is a thin adapter: every tool maps onto one engine operation
// and never touches stores directly.
//
//   - index_files, index_project: incremental indexing
//   - search, federated_query: ranked retrieval over one store or a scope
//   - watcher_start, watcher_pause, watcher_resume, watcher_stop,
//     watcher_status: the background watch queue
//   - register_project, detect_project, list_projects, update_stats,
//     remove_project: the project registry
//   - add_memory, search_memories: free-text memories
//   - get_status: store counters and watcher state
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "store": "api",
//	    "query": "retry with backoff",
//	    "mode": "hybrid",
//	    "limit": 10,
//	    "filters": {"language": "go"}
//	  }
//	}
//
//	Response:
//	{
//	  "hits": [
//	    {
//	      "rank": 1,
//	      "chunkId": 42,
//	      "score": 0.91,
//	      "path": "internal/client/retry.go",
//	      "startLine": 12,
//	      "endLine": 40,
//	      "symbol": "Backoff",
//	      "kind": "function",
//	      "content": "func Backoff(...) { ... }"
//	    }
//	  ],
//	  "totalHits": 1,
//	  "processingTimeMs": 3,
//	  "embeddingTimeMs": 1,
//	  "mode": "hybrid"
//	}
//
// When the embedding provider fails or times out the response carries
// "degraded": true and a "degradedReason", and the hits are keyword-ranked.
//
// # Tool: federated_query
//
//	{"name": "federated_query", "arguments": {"query": "auth", "scope": "all"}}
//
// The response lists merged results, each with its "source" store, plus
// "sources": {"global": 2, "projects": [{"name": "api", "count": 5}]}.
// Stores that could not be opened or failed mid-query appear under
// "skipped" and set "partial".
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: Invalid params (missing/invalid arguments, unknown scope)
//   - -32603: Internal error (database, filesystem, etc.)
//   - -32001: Project not found
//   - -32002: Indexing in progress
//   - -32003: Project already registered
//   - -32004: Empty query
//   - -32005: Watcher not running or already running
//
// # Logging
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
