package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/nexus/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	path string
}

// OpenDB opens a SQLite database with the settings every store uses:
// write-ahead logging, foreign keys and a single connection (one writer).
func OpenDB(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Open opens or creates the store at dbPath and upgrades its schema
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db, StoreMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, q: db, path: dbPath}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. Operations on the returned Tx run on
// the transaction; the store itself must not be used until it ends.
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{
		SQLiteStore: &SQLiteStore{db: s.db, q: tx, path: s.path},
		tx:          tx,
	}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	*SQLiteStore
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

// File operations

const fileColumns = `id, path, content_hash, mtime, size, language, project, ignored, indexed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	var file File
	var mtime, indexedAt int64
	err := row.Scan(&file.ID, &file.Path, &file.ContentHash, &mtime, &file.Size,
		&file.Language, &file.Project, &file.Ignored, &indexedAt)
	if err != nil {
		return nil, err
	}
	file.ModTime = time.UnixMilli(mtime)
	file.IndexedAt = time.UnixMilli(indexedAt)
	return &file, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*File, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

func (s *SQLiteStore) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// UpsertFile inserts or updates the record keyed by path and sets file.ID
func (s *SQLiteStore) UpsertFile(ctx context.Context, file *File) error {
	query := `
		INSERT INTO files (path, content_hash, mtime, size, language, project, ignored, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mtime = excluded.mtime,
			size = excluded.size,
			language = excluded.language,
			project = excluded.project,
			ignored = excluded.ignored,
			indexed_at = excluded.indexed_at
		RETURNING id
	`
	now := time.Now()
	err := s.q.QueryRowContext(ctx, query,
		file.Path, file.ContentHash, file.ModTime.UnixMilli(), file.Size,
		file.Language, file.Project, file.Ignored, now.UnixMilli()).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}

	file.IndexedAt = now
	return nil
}

// DeleteFile removes a file record; its chunks and embeddings cascade
func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*File, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Chunk operations

const chunkColumns = `id, file_id, start_line, end_line, content, symbol, kind, token_count, created_at`

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var symbol sql.NullString
	var kind string
	var createdAt int64
	err := row.Scan(&chunk.ID, &chunk.FileID, &chunk.StartLine, &chunk.EndLine,
		&chunk.Content, &symbol, &kind, &chunk.TokenCount, &createdAt)
	if err != nil {
		return nil, err
	}
	chunk.Symbol = symbol.String
	chunk.Kind = types.Kind(kind)
	chunk.CreatedAt = time.UnixMilli(createdAt)
	return &chunk, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertChunk inserts a chunk and sets chunk.ID. The keyword index is kept
// in lockstep by triggers.
func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *Chunk) error {
	if chunk.Kind == "" {
		chunk.Kind = types.KindBlock
	}
	query := `
		INSERT INTO chunks (file_id, start_line, end_line, content, symbol, kind, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	now := time.Now()
	err := s.q.QueryRowContext(ctx, query,
		chunk.FileID, chunk.StartLine, chunk.EndLine, chunk.Content,
		nullString(chunk.Symbol), string(chunk.Kind), chunk.TokenCount, now.UnixMilli()).Scan(&chunk.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("failed to insert chunk %d-%d: %w", chunk.StartLine, chunk.EndLine, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	chunk.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, chunkID)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (s *SQLiteStore) ListChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_id = ? ORDER BY start_line`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	defer func() { _ = rows.Close() }()

	chunks := make([]*Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID int64) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Embedding operations

func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	if len(embedding.Vector) == 0 {
		return errors.New("embedding vector is empty")
	}
	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			created_at = excluded.created_at
	`
	now := time.Now()
	_, err := s.q.ExecContext(ctx, query,
		embedding.ChunkID, serializeVector(embedding.Vector), len(embedding.Vector),
		embedding.Provider, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	embedding.Dimension = len(embedding.Vector)
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error) {
	query := `
		SELECT chunk_id, vector, dimension, provider, created_at
		FROM embeddings
		WHERE chunk_id = ?
	`
	var embedding Embedding
	var blob []byte
	var createdAt int64
	err := s.q.QueryRowContext(ctx, query, chunkID).Scan(
		&embedding.ChunkID, &blob, &embedding.Dimension, &embedding.Provider, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	embedding.Vector = deserializeVector(blob)
	embedding.CreatedAt = time.UnixMilli(createdAt)
	return &embedding, nil
}

// ListChunksWithoutEmbedding returns up to limit chunks that have no
// vector yet, oldest first
func (s *SQLiteStore) ListChunksWithoutEmbedding(ctx context.Context, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.file_id, c.start_line, c.end_line, c.content, c.symbol, c.kind, c.token_count, c.created_at
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.chunk_id IS NULL
		ORDER BY c.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks without embedding: %w", err)
	}
	return collectChunks(rows)
}

// Search operations

func (s *SQLiteStore) SearchText(ctx context.Context, query string, limit, offset int, filters *SearchFilters) ([]Hit, error) {
	return searchText(ctx, s.q, query, limit, offset, filters)
}

func (s *SQLiteStore) CountText(ctx context.Context, query string, filters *SearchFilters) (int, error) {
	return countText(ctx, s.q, query, filters)
}

func (s *SQLiteStore) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]Hit, error) {
	return searchVector(ctx, s.q, vector, limit, filters)
}

func (s *SQLiteStore) CountVector(ctx context.Context, dimension int, filters *SearchFilters) (int, error) {
	return countVector(ctx, s.q, dimension, filters)
}

// Maintenance

// Stats counts the store's rows and the language distribution of files
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Languages: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM files", &stats.Files},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM embeddings", &stats.Embeddings},
		{"SELECT COUNT(*) FROM memories", &stats.Memories},
		{"SELECT COUNT(*) FROM patterns", &stats.Patterns},
	}
	for _, c := range counts {
		if err := s.q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT language, COUNT(*) FROM files
		WHERE language != ''
		GROUP BY language
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count languages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		stats.Languages[lang] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int64
	if err := s.q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.SizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// ClearIndex removes all files, chunks and embeddings. Memories and
// patterns are kept.
func (s *SQLiteStore) ClearIndex(ctx context.Context) error {
	for _, q := range []string{"DELETE FROM chunks", "DELETE FROM files"} {
		if _, err := s.q.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}
	return nil
}
