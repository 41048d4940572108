package types

import "errors"

// Kind classifies what a chunk contains
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindType      Kind = "type"
	KindInterface Kind = "interface"
	KindBlock     Kind = "block"
)

// Chunk is an addressable, non-overlapping line range of a file
type Chunk struct {
	// Lines are 1-based and inclusive
	StartLine int
	EndLine   int

	Content    string
	Symbol     string // Empty when the range has no named symbol
	Kind       Kind
	TokenCount int // Estimate, ceil(len(Content)/4)
}

// ValidKind reports whether k is a known chunk kind
func ValidKind(k Kind) bool {
	switch k {
	case KindFunction, KindMethod, KindClass, KindType, KindInterface, KindBlock:
		return true
	default:
		return false
	}
}

// Validate checks line bounds and kind
func (c *Chunk) Validate() error {
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	if c.Kind != "" && !ValidKind(c.Kind) {
		return errors.New("invalid chunk kind")
	}

	return nil
}

// Lines returns the number of lines covered by the chunk
func (c *Chunk) Lines() int {
	return c.EndLine - c.StartLine + 1
}
