package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/pkg/types"
)

// assertCover checks that chunks are ordered, contiguous and span 1..total
func assertCover(t *testing.T, chunks []types.Chunk, total int) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine, "chunk %d must follow chunk %d", i, i-1)
	}
	assert.Equal(t, total, chunks[len(chunks)-1].EndLine)
	for _, ch := range chunks {
		require.NoError(t, ch.Validate())
	}
}

func TestChunk_EmptyFile(t *testing.T) {
	c := New()
	assert.Empty(t, c.Chunk("", "go"))
	assert.Empty(t, c.Chunk("  \n\n\t\n", "go"))
}

func TestChunk_GoFileCoversEveryLine(t *testing.T) {
	src := `package testpkg

import "fmt"

// Greet prints a greeting message
func Greet(name string) {
	fmt.Println("Hello, " + name)
}

var defaultName = "world"

type Greeter struct {
	Name string
}

func (g *Greeter) Run() {
	Greet(g.Name)
}
`
	c := New()
	chunks := c.Chunk(src, "go")
	assertCover(t, chunks, 18)

	var greet, run *types.Chunk
	for i := range chunks {
		switch chunks[i].Symbol {
		case "Greet":
			greet = &chunks[i]
		case "Run":
			run = &chunks[i]
		}
	}

	require.NotNil(t, greet)
	assert.Equal(t, types.KindFunction, greet.Kind)
	assert.Contains(t, greet.Content, "// Greet prints")
	assert.Contains(t, greet.Content, "fmt.Println")

	require.NotNil(t, run)
	assert.Equal(t, types.KindMethod, run.Kind)
	assert.Equal(t, 18, run.EndLine)

	// The header is a block chunk
	assert.Equal(t, types.KindBlock, chunks[0].Kind)
	assert.Contains(t, chunks[0].Content, "package testpkg")
}

func TestChunk_NoSymbolsFallsBackToWindows(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 200; i++ {
		fmt.Fprintf(&b, "line %d of the notes\n", i)
	}

	c := New()
	chunks := c.Chunk(b.String(), "markdown")
	require.Len(t, chunks, 3)
	assertCover(t, chunks, 200)

	assert.Equal(t, 80, chunks[0].EndLine)
	assert.Equal(t, 160, chunks[1].EndLine)
	for _, ch := range chunks {
		assert.Equal(t, types.KindBlock, ch.Kind)
		assert.Empty(t, ch.Symbol)
	}
}

func TestChunk_OversizedSymbolIsSplit(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Huge() {\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "\tx%d := %d\n", i, i)
	}
	b.WriteString("}\n")

	c := New(WithMaxLines(10))
	chunks := c.Chunk(b.String(), "go")
	assertCover(t, chunks, 34)

	var huge []types.Chunk
	for _, ch := range chunks {
		if ch.Symbol == "Huge" {
			huge = append(huge, ch)
			assert.LessOrEqual(t, ch.Lines(), 10)
		}
	}
	assert.Len(t, huge, 4)
}

func TestChunk_NoTrailingNewline(t *testing.T) {
	chunks := New().Chunk("alpha\nbeta", "")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, "alpha\nbeta", chunks[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))

	chunks := New().Chunk("xyz123 token", "")
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].TokenCount)
}

func TestDetectLanguage(t *testing.T) {
	c := New()
	assert.Equal(t, "go", c.DetectLanguage("/a/b/main.go"))
	assert.Equal(t, "", c.DetectLanguage("/a/b/LICENSE"))
}
