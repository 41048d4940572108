package types

import "errors"

// Symbol is a named declaration found in a source file
type Symbol struct {
	Name string
	Kind Kind

	// 1-based inclusive line span
	StartLine int
	EndLine   int
}

// Validate checks that the symbol has a name and a sane span
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if s.StartLine <= 0 || s.EndLine <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.StartLine > s.EndLine {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}

// ParseResult is the output of symbol extraction for one file
type ParseResult struct {
	Language string
	Symbols  []Symbol

	// Non-fatal problems, e.g. syntax errors that still produced a partial tree
	Errors []string
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}
