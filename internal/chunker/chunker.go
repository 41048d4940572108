package chunker

import (
	"strings"

	"github.com/dshills/nexus/internal/parser"
	"github.com/dshills/nexus/pkg/types"
)

const (
	// DefaultMaxLines bounds the number of lines per chunk
	DefaultMaxLines = 80

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker splits file text into an ordered, non-overlapping cover of line
// ranges. Symbol spans from the parser become chunk boundaries; the lines
// between symbols become "block" chunks.
type Chunker struct {
	parser   *parser.Parser
	maxLines int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithMaxLines sets the maximum chunk height in lines
func WithMaxLines(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxLines = n
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		parser:   parser.New(),
		maxLines: DefaultMaxLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DetectLanguage returns the language hint for a path
func (c *Chunker) DetectLanguage(path string) string {
	return parser.DetectLanguage(path)
}

// segment is a line range before window splitting
type segment struct {
	start, end int
	symbol     string
	kind       types.Kind
	blank      bool
}

// Chunk splits content into chunks. An empty or whitespace-only file yields
// no chunks. A file without detectable symbols is cut into fixed windows.
func (c *Chunker) Chunk(content, language string) []types.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := splitLines(content)
	total := len(lines)

	parsed := c.parser.Parse(language, []byte(content))
	if len(parsed.Symbols) == 0 {
		return c.windows(lines, segment{start: 1, end: total, kind: types.KindBlock})
	}

	segments := mergeBlank(buildSegments(lines, parsed.Symbols))

	chunks := make([]types.Chunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, c.windows(lines, seg)...)
	}
	return chunks
}

// buildSegments interleaves symbol spans with the gaps between them
func buildSegments(lines []string, symbols []types.Symbol) []segment {
	total := len(lines)
	segments := make([]segment, 0, len(symbols)*2+1)

	cur := 1
	for _, sym := range symbols {
		start, end := sym.StartLine, sym.EndLine
		if end > total {
			end = total
		}
		if start < cur || start > end {
			continue
		}
		if start > cur {
			segments = append(segments, gapSegment(lines, cur, start-1))
		}

		kind := sym.Kind
		if !types.ValidKind(kind) {
			kind = types.KindBlock
		}
		segments = append(segments, segment{start: start, end: end, symbol: sym.Name, kind: kind})
		cur = end + 1
	}
	if cur <= total {
		segments = append(segments, gapSegment(lines, cur, total))
	}
	return segments
}

func gapSegment(lines []string, start, end int) segment {
	blank := true
	for _, l := range lines[start-1 : end] {
		if strings.TrimSpace(l) != "" {
			blank = false
			break
		}
	}
	return segment{start: start, end: end, kind: types.KindBlock, blank: blank}
}

// mergeBlank folds whitespace-only gaps into the preceding segment, or into
// the following one at the start of the file
func mergeBlank(segments []segment) []segment {
	out := make([]segment, 0, len(segments))
	pendingStart := 0
	for _, seg := range segments {
		if seg.blank {
			if len(out) > 0 {
				out[len(out)-1].end = seg.end
			} else if pendingStart == 0 {
				pendingStart = seg.start
			}
			continue
		}
		if pendingStart > 0 {
			seg.start = pendingStart
			pendingStart = 0
		}
		out = append(out, seg)
	}
	return out
}

// windows cuts a segment into pieces of at most maxLines lines
func (c *Chunker) windows(lines []string, seg segment) []types.Chunk {
	var chunks []types.Chunk
	for start := seg.start; start <= seg.end; start += c.maxLines {
		end := start + c.maxLines - 1
		if end > seg.end {
			end = seg.end
		}

		content := strings.Join(lines[start-1:end], "\n")
		chunks = append(chunks, types.Chunk{
			StartLine:  start,
			EndLine:    end,
			Content:    content,
			Symbol:     seg.symbol,
			Kind:       seg.kind,
			TokenCount: EstimateTokens(content),
		})
	}
	return chunks
}

// splitLines splits on newlines; a trailing newline does not add a line
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// EstimateTokens estimates the number of tokens in a string,
// ceil(len/4). It is an approximation, not a tokenizer match.
func EstimateTokens(text string) int {
	return (len(text) + TokensPerChar - 1) / TokensPerChar
}
