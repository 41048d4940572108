package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Shared property definitions
var (
	storeProperty = map[string]interface{}{
		"type":        "string",
		"description": "Registered project name, or \"global\" for the shared store (default)",
	}
	limitProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return (1-100)",
		"default":     10,
		"minimum":     1,
		"maximum":     100,
	}
	offsetProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Number of results to skip",
		"default":     0,
		"minimum":     0,
	}
	modeProperty = map[string]interface{}{
		"type":        "string",
		"description": "Search strategy: keyword (BM25), semantic (embeddings), hybrid (weighted fusion) or smart (keyword re-ranked by candidate-local TF-IDF)",
		"enum":        []string{"keyword", "semantic", "hybrid", "smart"},
	}
	filtersProperty = map[string]interface{}{
		"type":        "object",
		"description": "Optional filters to narrow search",
		"properties": map[string]interface{}{
			"project": map[string]interface{}{
				"type":        "string",
				"description": "Only files tagged with this project",
			},
			"language": map[string]interface{}{
				"type":        "string",
				"description": "Only files of this language (go, python, typescript, ...)",
			},
			"file_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern for file paths (e.g., 'internal/*')",
			},
			"kinds": map[string]interface{}{
				"type":        "array",
				"description": "Filter by chunk kind",
				"items": map[string]interface{}{
					"type": "string",
					"enum": []string{"function", "method", "class", "type", "interface", "block"},
				},
			},
			"min_score": map[string]interface{}{
				"type":        "number",
				"description": "Minimum score for smart mode (0.0-1.0)",
				"minimum":     0.0,
				"maximum":     1.0,
			},
		},
	}
)

func objectSchema(properties map[string]interface{}, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func indexFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_files",
		Description: "Index files under a root into a store. Unchanged files are skipped by content hash; one file's failure never stops the batch.",
		InputSchema: objectSchema(map[string]interface{}{
			"store": storeProperty,
			"root": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path of the root the file paths are relative to",
			},
			"paths": map[string]interface{}{
				"type":        "array",
				"description": "Files to index, absolute or relative to root",
				"items":       map[string]interface{}{"type": "string"},
			},
			"batch_size": map[string]interface{}{
				"type":        "integer",
				"description": "Files per group (default from config)",
				"minimum":     1,
			},
		}, "root", "paths"),
	}
}

func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Index every non-ignored file of a registered project and remove records of vanished files",
		InputSchema: objectSchema(map[string]interface{}{
			"project": map[string]interface{}{
				"type":        "string",
				"description": "Registered project name",
			},
		}, "project"),
	}
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search one store. Semantic and hybrid searches degrade to keyword results when the embedding provider is unavailable.",
		InputSchema: objectSchema(map[string]interface{}{
			"store":   storeProperty,
			"query":   map[string]interface{}{"type": "string", "description": "Search query (natural language or keywords)"},
			"mode":    modeProperty,
			"limit":   limitProperty,
			"offset":  offsetProperty,
			"filters": filtersProperty,
		}, "query"),
	}
}

func federatedQueryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "federated_query",
		Description: "Search every store a scope resolves to and merge the results with their source. Unavailable stores are skipped and reported.",
		InputSchema: objectSchema(map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
			"scope": map[string]interface{}{
				"type":        "string",
				"description": "global: shared store; repo/branch/ticket/feature: the named project, or every project without one; all: global plus every project",
				"enum":        []string{"repo", "branch", "ticket", "feature", "global", "all"},
				"default":     "all",
			},
			"project": map[string]interface{}{"type": "string", "description": "Project name for repo/branch/ticket/feature scopes"},
			"mode":    modeProperty,
			"limit":   limitProperty,
			"offset":  offsetProperty,
		}, "query"),
	}
}

func watcherStartTool() mcp.Tool {
	return mcp.Tool{
		Name:        "watcher_start",
		Description: "Watch a directory and index changes after a quiet period",
		InputSchema: objectSchema(map[string]interface{}{
			"root": map[string]interface{}{"type": "string", "description": "Absolute path to watch"},
			"store": map[string]interface{}{
				"type":        "string",
				"description": "Store to feed; detected from root when omitted",
			},
			"debounce_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Quiet period before a flush (default from config)",
				"minimum":     1,
			},
			"patterns": map[string]interface{}{
				"type":        "array",
				"description": "Extra ignore patterns",
				"items":       map[string]interface{}{"type": "string"},
			},
		}, "root"),
	}
}

// simpleTool has no arguments
func simpleTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: objectSchema(map[string]interface{}{}),
	}
}

func registerProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "register_project",
		Description: "Register a project root and create its isolated store",
		InputSchema: objectSchema(map[string]interface{}{
			"name":        map[string]interface{}{"type": "string", "description": "Unique project name"},
			"root":        map[string]interface{}{"type": "string", "description": "Absolute path to the project root"},
			"description": map[string]interface{}{"type": "string", "description": "Optional description"},
		}, "name", "root"),
	}
}

func detectProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "detect_project",
		Description: "Find the registered project containing a path (longest root prefix wins)",
		InputSchema: objectSchema(map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Absolute file or directory path"},
		}, "path"),
	}
}

func projectNameTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: objectSchema(map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Registered project name"},
		}, "name"),
	}
}

func addMemoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_memory",
		Description: "Store a free-text memory, optionally compressed to a token budget",
		InputSchema: objectSchema(map[string]interface{}{
			"store":   storeProperty,
			"content": map[string]interface{}{"type": "string", "description": "Memory text"},
			"type":    map[string]interface{}{"type": "string", "description": "Memory type (default note)"},
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"max_tokens": map[string]interface{}{
				"type":        "integer",
				"description": "Compress content to this many tokens (0 keeps it whole)",
				"minimum":     0,
			},
		}, "content"),
	}
}

func searchMemoriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_memories",
		Description: "Search memories by keyword; an empty query lists the most recent",
		InputSchema: objectSchema(map[string]interface{}{
			"store": storeProperty,
			"query": map[string]interface{}{"type": "string", "description": "Keywords"},
			"limit": limitProperty,
		}),
	}
}

func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Counts of files, chunks, embeddings, memories and patterns in a store",
		InputSchema: objectSchema(map[string]interface{}{
			"store": storeProperty,
		}),
	}
}
