// Package memory stores free-text memories and code patterns. Long
// memories are compressed to a token budget through the Compressor
// contract; the default keeps the leading words that fit.
package memory
