// Package chunker divides source files into chunks for indexing and search.
//
// Chunks are ordered, non-overlapping and together cover every line of the
// file. Declarations found by the parser (functions, methods, classes,
// types) become their own chunks carrying the symbol name and kind; code
// between declarations becomes "block" chunks, and whitespace-only gaps are
// folded into a neighbour. Files with no recognizable declarations fall
// back to fixed windows of DefaultMaxLines lines.
//
//	c := chunker.New()
//	for _, ch := range c.Chunk(src, c.DetectLanguage(path)) {
//	    fmt.Printf("%d-%d %s %s (~%d tokens)\n",
//	        ch.StartLine, ch.EndLine, ch.Kind, ch.Symbol, ch.TokenCount)
//	}
//
// Token counts are estimates (characters / 4, rounded up).
package chunker
