package types

import "errors"

// Domain errors shared across components. Callers test them with errors.Is;
// components wrap them with the underlying cause.
var (
	// ErrReadFailure covers vanished files, permission errors, oversized and
	// binary or undecodable content. Recorded per file; the batch continues.
	ErrReadFailure = errors.New("read failure")

	// ErrHashNotInitialized is returned when the synchronous hasher is used
	// before its one-shot initialization completed.
	ErrHashNotInitialized = errors.New("hasher not initialized")

	// ErrStoreWrite aborts a single file's transaction.
	ErrStoreWrite = errors.New("store write failure")

	// ErrEmbeddingProvider marks timeouts, auth and transport failures of the
	// vectorization function. Searches degrade to keyword-only on it.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrStoreUnavailable marks a store skipped during federation.
	ErrStoreUnavailable = errors.New("federation store unavailable")

	ErrProjectAlreadyRegistered = errors.New("project already registered")
	ErrProjectNotFound          = errors.New("project not found")

	ErrInvalidScope = errors.New("invalid federation scope")
	ErrEmptyQuery   = errors.New("query cannot be empty")
)

// Search result validation errors
var (
	ErrInvalidChunkID  = errors.New("invalid chunk ID")
	ErrInvalidRank     = errors.New("rank must be >= 1")
	ErrMissingFileInfo = errors.New("file info is required")
	ErrEmptyContent    = errors.New("content cannot be empty")
)
