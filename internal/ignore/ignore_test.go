package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_Defaults(t *testing.T) {
	m := New(DefaultPatterns...)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{".git/HEAD", false, true},
		{"dist/app.js", false, true},
		{"assets/logo.png", false, true},
		{"static/app.min.js", false, true},
		{"Cargo.lock", false, true},
		{"pkg/foo.egg-info/PKG-INFO", false, true},
		{"main.go", false, false},
		{"internal/storage/sqlite.go", false, false},
		{"src/app.js", false, false},
		// Directory-only patterns do not match files of that name
		{"cmd/build", false, false},
		{"cmd/build", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatch_Anchored(t *testing.T) {
	m := New("/generated", "docs/**/*.html", "fixtures/")

	assert.True(t, m.Match("generated/api.go", false))
	assert.False(t, m.Match("pkg/generated/api.go", false))

	assert.True(t, m.Match("docs/a/b/index.html", false))
	assert.True(t, m.Match("docs/index.html", false))
	assert.False(t, m.Match("site/docs/index.html", false))

	assert.True(t, m.Match("fixtures/data/sample.json", false))
	assert.True(t, m.Match("src/fixtures/x.json", false), "no slash before the trailing one means any depth")
}

func TestMatch_NameAtAnyDepth(t *testing.T) {
	m := New("secrets.yaml", "*.pem")
	assert.True(t, m.Match("secrets.yaml", false))
	assert.True(t, m.Match("deploy/prod/secrets.yaml", false))
	assert.True(t, m.Match("tls/server.pem", false))
	assert.False(t, m.Match("deploy/secrets.yml", false))
}

func TestParse(t *testing.T) {
	src := `
# comment
*.tmp

!keep.tmp
build/
  spaced.txt  
`
	patterns, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"*.tmp", "!keep.tmp", "build/", "spaced.txt"}, patterns)
}

func TestMatch_Negation(t *testing.T) {
	m := New("*.log", "!keep.log", "./scratch/")
	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))
	assert.False(t, m.Match("sub/keep.log", false))
	assert.True(t, m.Match("scratch/a.md", false))

	// The last matching pattern wins
	m.Add("keep.log")
	assert.True(t, m.Match("keep.log", false))
}

func TestLoad_ReincludesDefault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("!schema.sqlite\n"), 0o644))

	m, err := Load(root, []string{".gitignore"}, nil)
	require.NoError(t, err)
	assert.False(t, m.Match("testdata/schema.sqlite", false))
	assert.True(t, m.Match("testdata/other.sqlite", false))
}

func TestLoad_MergesInOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.gen.go\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".nexusignore"), []byte("scratch/\n"), 0o644))

	m, err := Load(root, []string{".gitignore", ".nexusignore", ".missing"}, []string{"*.snap"})
	require.NoError(t, err)

	patterns := m.Patterns()
	n := len(DefaultPatterns)
	require.Len(t, patterns, n+3)
	assert.Equal(t, []string{"*.gen.go", "scratch/", "*.snap"}, patterns[n:])

	assert.True(t, m.Match("api/types.gen.go", false))
	assert.True(t, m.Match("scratch/notes.md", false))
	assert.True(t, m.Match("ui/__snapshots__/a.snap", false))
	assert.True(t, m.Match("node_modules/x.js", false))
	assert.False(t, m.Match("api/types.go", false))
}

func TestNew_DropsInvalid(t *testing.T) {
	m := New("[", "", "# c", "!", "ok.txt")
	assert.Equal(t, []string{"ok.txt"}, m.Patterns())
	assert.False(t, New().Match("main.go", false))
}
