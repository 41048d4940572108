package memory

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/nexus/internal/chunker"
)

// Compressor shortens text to roughly maxTokens tokens
type Compressor interface {
	Compress(ctx context.Context, text string, maxTokens int) (string, error)
}

// CompressorFunc adapts a function to Compressor
type CompressorFunc func(ctx context.Context, text string, maxTokens int) (string, error)

func (f CompressorFunc) Compress(ctx context.Context, text string, maxTokens int) (string, error) {
	return f(ctx, text, maxTokens)
}

// Truncator keeps the leading text that fits the token budget, cut at the
// last word boundary when one exists.
type Truncator struct{}

func (Truncator) Compress(_ context.Context, text string, maxTokens int) (string, error) {
	return Truncate(text, maxTokens), nil
}

// Truncate cuts text to maxTokens tokens. A non-positive budget returns
// text unchanged.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || chunker.EstimateTokens(text) <= maxTokens {
		return text
	}

	limit := maxTokens * chunker.TokensPerChar
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]

	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}
