package storage

import (
	"context"
	"time"

	"github.com/dshills/nexus/pkg/types"
)

// Store defines the operations of a single scope's index: one project or
// the shared global store. Every store is self-contained.
type Store interface {
	// File operations
	GetFile(ctx context.Context, path string) (*File, error)
	GetFileByID(ctx context.Context, fileID int64) (*File, error)
	UpsertFile(ctx context.Context, file *File) error
	DeleteFile(ctx context.Context, fileID int64) error
	ListFiles(ctx context.Context) ([]*File, error)

	// Chunk operations
	InsertChunk(ctx context.Context, chunk *Chunk) error
	GetChunk(ctx context.Context, chunkID int64) (*Chunk, error)
	ListChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error)
	DeleteChunksByFile(ctx context.Context, fileID int64) (deleted int, err error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error)
	ListChunksWithoutEmbedding(ctx context.Context, limit int) ([]*Chunk, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit, offset int, filters *SearchFilters) ([]Hit, error)
	CountText(ctx context.Context, query string, filters *SearchFilters) (int, error)
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]Hit, error)
	CountVector(ctx context.Context, dimension int, filters *SearchFilters) (int, error)

	// Memory and pattern operations
	AddMemory(ctx context.Context, memory *Memory) error
	SearchMemories(ctx context.Context, query string, limit int) ([]*Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	AddPattern(ctx context.Context, pattern *Pattern) error
	ListPatterns(ctx context.Context, limit int) ([]*Pattern, error)

	// Maintenance
	Stats(ctx context.Context) (*Stats, error)
	ClearIndex(ctx context.Context) error

	// Database operations
	BeginTx(ctx context.Context) (Tx, error)
	Path() string
	Close() error
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Store // Embed Store interface for transaction operations
}

// File is the metadata record of an indexed file. Path is unique within
// a store and ContentHash is the only re-indexing signal.
type File struct {
	ID          int64
	Path        string // Relative to project root
	ContentHash string
	ModTime     time.Time
	Size        int64
	Language    string
	Project     string
	Ignored     bool
	IndexedAt   time.Time
}

// Chunk is a stored line range owned by exactly one File
type Chunk struct {
	ID         int64
	FileID     int64
	StartLine  int
	EndLine    int
	Content    string
	Symbol     string
	Kind       types.Kind
	TokenCount int
	CreatedAt  time.Time
}

// Embedding is the vector of a chunk, one per chunk
type Embedding struct {
	ChunkID   int64
	Vector    []float32
	Dimension int
	Provider  string
	CreatedAt time.Time
}

// Memory is a free-text note attached to a store
type Memory struct {
	ID         string
	Type       string
	Content    string
	Tags       []string
	TokenCount int
	Score      float64 // Set by SearchMemories
	CreatedAt  time.Time
}

// Pattern is a named, reusable code pattern
type Pattern struct {
	ID          string
	Name        string
	Description string
	Example     string
	Language    string
	CreatedAt   time.Time
}

// SearchFilters narrows text and vector searches
type SearchFilters struct {
	Project     string       // Exact match on files.project
	Language    string       // Exact match on files.language
	FilePattern string       // GLOB over files.path
	Kinds       []types.Kind // Chunk kinds
}

// Hit is a chunk joined with its file, as returned by searches. Score is
// -bm25 for text searches and cosine similarity for vector searches;
// higher is better in both.
type Hit struct {
	ChunkID   int64
	Path      string
	Language  string
	StartLine int
	EndLine   int
	Content   string
	Symbol    string
	Kind      types.Kind
	Score     float64
}

// Stats contains counts over a store
type Stats struct {
	Files      int
	Chunks     int
	Embeddings int
	Memories   int
	Patterns   int
	Languages  map[string]int
	SizeBytes  int64
}
