package types

// SearchResult represents a single ranked chunk
type SearchResult struct {
	ChunkID int64
	Rank    int // Position in result set (1-based)

	// Score is the mode's final score; higher is better. Hybrid and smart
	// scores are in [0,1].
	Score         float64
	KeywordScore  float64
	SemanticScore float64

	File    *FileInfo
	Symbol  string
	Kind    Kind
	Content string

	// Source names the store the hit came from in federated queries
	Source string
}

// FileInfo contains file metadata for a search result
type FileInfo struct {
	Path      string // Relative to project root
	Language  string
	StartLine int
	EndLine   int
}

// Validate checks if the search result is valid. Only fused scores are
// bounded, so the score check is left to callers that know the mode.
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == 0 {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.File == nil {
		return ErrMissingFileInfo
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}

// FileResult is the per-file outcome of an indexing or deletion pass
type FileResult struct {
	Path    string
	Success bool
	Skipped bool // Hash unchanged; counted as success
	Chunks  int
	Error   error
}

// ErrorString returns the error text or an empty string
func (fr FileResult) ErrorString() string {
	if fr.Error == nil {
		return ""
	}
	return fr.Error.Error()
}
