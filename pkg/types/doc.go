// Package types provides the domain types shared by the indexer, the search
// engine and the federation layer.
//
// Chunk is the unit of indexing and retrieval: a non-overlapping line range
// of one file with an optional symbol name and kind. Symbol and ParseResult
// carry the output of symbol extraction. SearchResult is a ranked chunk with
// its file metadata, and FileResult is the per-file outcome of an indexing
// pass.
//
// errors.go holds the error taxonomy. Components wrap these sentinels so
// callers can classify failures with errors.Is:
//
//	if errors.Is(res.Error, types.ErrReadFailure) {
//	    // file vanished, unreadable, too large or binary
//	}
package types
