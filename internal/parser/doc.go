// Package parser finds top-level symbol spans in source files.
//
// The chunker uses these spans as chunk boundaries. Extraction is
// best-effort: syntax errors are recorded in ParseResult.Errors and whatever
// symbols could be recovered are still returned. Nested declarations are
// folded into their enclosing symbol so spans never overlap.
package parser
