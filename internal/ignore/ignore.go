// Package ignore decides which paths under a project root are never indexed.
//
// Patterns use .gitignore syntax as implemented by go-git. Later patterns
// win, so a ! pattern in an ignore file re-includes what a default excluded.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultPatterns are applied before any ignore file
var DefaultPatterns = []string{
	// Dependencies
	"node_modules/", ".npm/", ".yarn/", ".pnpm-store/", "bower_components/",
	"vendor/", "site-packages/", "venv/", ".venv/", "*.egg-info/",

	// Tool caches
	"__pycache__/", ".pytest_cache/", ".mypy_cache/", ".ruff_cache/",
	".tox/", ".nox/", ".cache/", ".turbo/", ".parcel-cache/",
	".next/", ".nuxt/", ".output/", ".svelte-kit/", ".vercel/",

	// Build outputs
	"dist/", "build/", "out/", "target/", "_build/",

	// Editors and version control
	".idea/", ".vscode/", ".vs/", ".git/", ".svn/", ".hg/",

	// Coverage, logs, temp
	"coverage/", ".nyc_output/", "htmlcov/", "logs/", "tmp/", "temp/", ".tmp/",
	"*.log", ".DS_Store", "Thumbs.db",

	// Secrets, locks, editor leftovers
	".env", ".env.*", "*.lock", "*.bak", "*.swp", "*.swo", "*~",

	// Generated and binary files
	"*.min.js", "*.min.css", "*.bundle.js", "*.map",
	"*.db", "*.db-shm", "*.db-wal", "*.sqlite",
	"*.pyc", "*.pyo", "*.so", "*.dylib", "*.dll", "*.exe", "*.bin", "*.o", "*.a",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.ico", "*.svg", "*.webp",
	"*.woff", "*.woff2", "*.ttf", "*.eot",
	"*.mp3", "*.mp4", "*.wav", "*.avi", "*.mov",
	"*.pdf", "*.zip", "*.tar", "*.gz", "*.tgz", "*.rar", "*.7z",
}

// Matcher holds a compiled, ordered pattern set
type Matcher struct {
	raw      []string
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

// New compiles patterns. Invalid globs are dropped.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	m.Add(patterns...)
	return m
}

// Load builds the matcher for root by merging, in order, DefaultPatterns,
// each ignore file (relative to root, missing files skipped) and the
// caller-supplied patterns
func Load(root string, files []string, extra []string) (*Matcher, error) {
	m := New(DefaultPatterns...)
	for _, name := range files {
		if name == "" {
			continue
		}
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, name)
		}
		patterns, err := ParseFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.Add(patterns...)
	}
	m.Add(extra...)
	return m, nil
}

// ParseFile reads a newline-delimited pattern file
func ParseFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	patterns, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", filename, err)
	}
	return patterns, nil
}

// Parse returns the usable pattern lines from r, negations included
func Parse(r io.Reader) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

// Add appends patterns to the set
func (m *Matcher) Add(patterns ...string) {
	for _, raw := range patterns {
		s, ok := clean(raw)
		if !ok {
			continue
		}
		m.raw = append(m.raw, raw)
		m.patterns = append(m.patterns, gitignore.ParsePattern(s, nil))
	}
	m.matcher = gitignore.NewMatcher(m.patterns)
}

// Patterns returns the raw patterns in evaluation order
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.raw...)
}

// Match reports whether relPath, or any directory above it, is ignored.
// isDir tells whether relPath itself is a directory.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	normalized := normalize(relPath)
	if normalized == "" || m.matcher == nil {
		return false
	}
	return m.matcher.Match(strings.Split(normalized, "/"), isDir)
}

// clean trims a pattern line and rejects comments, blanks and globs that
// can never match
func clean(raw string) (string, bool) {
	s := strings.TrimSpace(filepath.ToSlash(raw))
	if s == "" || strings.HasPrefix(s, "#") {
		return "", false
	}

	negated := strings.HasPrefix(s, "!")
	body := strings.TrimPrefix(strings.TrimPrefix(s, "!"), "./")
	segments := strings.Trim(body, "/")
	if segments == "" {
		return "", false
	}
	for _, part := range strings.Split(segments, "/") {
		if _, err := path.Match(part, ""); err != nil {
			return "", false
		}
	}

	if negated {
		return "!" + body, true
	}
	return body, true
}

func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = filepath.ToSlash(raw)
	raw = strings.TrimPrefix(raw, "./")
	raw = strings.TrimPrefix(raw, "/")
	return strings.TrimSuffix(raw, "/")
}
