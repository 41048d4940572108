package parser

import (
	"path/filepath"
	"strings"
)

// languageByExt maps lower-case file extensions to language tags
var languageByExt = map[string]string{
	".ts":     "typescript",
	".tsx":    "typescript",
	".mts":    "typescript",
	".js":     "javascript",
	".jsx":    "javascript",
	".mjs":    "javascript",
	".cjs":    "javascript",
	".py":     "python",
	".pyi":    "python",
	".rs":     "rust",
	".go":     "go",
	".java":   "java",
	".kt":     "kotlin",
	".kts":    "kotlin",
	".rb":     "ruby",
	".php":    "php",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".hpp":    "cpp",
	".cc":     "cpp",
	".cs":     "csharp",
	".swift":  "swift",
	".scala":  "scala",
	".lua":    "lua",
	".sh":     "shell",
	".bash":   "shell",
	".zsh":    "shell",
	".sql":    "sql",
	".md":     "markdown",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".xml":    "xml",
	".html":   "html",
	".css":    "css",
	".scss":   "scss",
	".sass":   "sass",
	".less":   "less",
	".vue":    "vue",
	".svelte": "svelte",
}

// DetectLanguage returns the language tag for a path, or "" when unknown
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}
