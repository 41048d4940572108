package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/nexus/pkg/types"
)

const hitColumns = `c.id, f.path, f.language, c.start_line, c.end_line, c.content, c.symbol, c.kind`

// searchVector ranks embedded chunks by cosine similarity to vector.
// Chunks without an embedding, or with a different dimension, are excluded.
func searchVector(ctx context.Context, q querier, vector []float32, limit int, filters *SearchFilters) ([]Hit, error) {
	if limit <= 0 || len(vector) == 0 {
		return []Hit{}, nil
	}
	// Use SQL-side ranking when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, vector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, vector, limit, filters)
}

// searchVectorOptimized uses sqlite-vec's vec_distance_cosine
func searchVectorOptimized(ctx context.Context, q querier, vector []float32, limit int, filters *SearchFilters) ([]Hit, error) {
	query := `
		SELECT ` + hitColumns + `,
			1.0 - vec_distance_cosine(e.vector, ?) AS score
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		INNER JOIN files f ON f.id = c.file_id
		WHERE e.dimension = ?
	`
	args := []interface{}{serializeVector(vector), len(vector)}
	query, args = applyFilters(query, args, filters)
	query += " ORDER BY score DESC, c.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	return collectHits(rows)
}

// searchVectorFallback scores every candidate in Go, then loads the top
// hits
func searchVectorFallback(ctx context.Context, q querier, vector []float32, limit int, filters *SearchFilters) ([]Hit, error) {
	query := `
		SELECT c.id, e.vector
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		INNER JOIN files f ON f.id = c.file_id
		WHERE e.dimension = ?
	`
	args := []interface{}{len(vector)}
	query, args = applyFilters(query, args, filters)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	candidates, err := computeSimilarityScores(rows, vector)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		return []Hit{}, nil
	}

	ids := make([]interface{}, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}
	hitRows, err := q.QueryContext(ctx, `
		SELECT `+hitColumns+`, 0.0
		FROM chunks c
		INNER JOIN files f ON f.id = c.file_id
		WHERE c.id IN (`+placeholders(len(ids))+`)
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector hits: %w", err)
	}
	loaded, err := collectHits(hitRows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Hit, len(loaded))
	for _, h := range loaded {
		byID[h.ChunkID] = h
	}
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		h, ok := byID[c.chunkID]
		if !ok {
			continue
		}
		h.Score = c.score
		hits = append(hits, h)
	}
	return hits, nil
}

// searchText performs BM25 full-text search using FTS5. Scores are -bm25 so
// that higher is better.
func searchText(ctx context.Context, q querier, query string, limit, offset int, filters *SearchFilters) ([]Hit, error) {
	match := buildMatchExpression(query)
	if match == "" {
		return nil, types.ErrEmptyQuery
	}
	if limit <= 0 {
		return []Hit{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	sqlQuery := `
		SELECT ` + hitColumns + `,
			-bm25(chunks_fts) AS score
		FROM chunks_fts
		INNER JOIN chunks c ON c.id = chunks_fts.rowid
		INNER JOIN files f ON f.id = c.file_id
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}
	sqlQuery, args = applyFilters(sqlQuery, args, filters)
	sqlQuery += " ORDER BY score DESC, c.id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	return collectHits(rows)
}

// countText returns the total number of chunks matching query
func countText(ctx context.Context, q querier, query string, filters *SearchFilters) (int, error) {
	match := buildMatchExpression(query)
	if match == "" {
		return 0, types.ErrEmptyQuery
	}

	sqlQuery := `
		SELECT COUNT(*)
		FROM chunks_fts
		INNER JOIN chunks c ON c.id = chunks_fts.rowid
		INNER JOIN files f ON f.id = c.file_id
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}
	sqlQuery, args = applyFilters(sqlQuery, args, filters)

	var n int
	if err := q.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count FTS matches: %w", err)
	}
	return n, nil
}

// countVector returns how many chunks carry an embedding of dimension,
// which is every candidate a vector search can rank
func countVector(ctx context.Context, q querier, dimension int, filters *SearchFilters) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		INNER JOIN files f ON f.id = c.file_id
		WHERE e.dimension = ?
	`
	args := []interface{}{dimension}
	query, args = applyFilters(query, args, filters)

	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embedded chunks: %w", err)
	}
	return n, nil
}

// Helper functions

// applyFilters adds WHERE clause filters shared by text and vector search
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.Project != "" {
		query += " AND f.project = ?"
		args = append(args, filters.Project)
	}

	if filters.Language != "" {
		query += " AND f.language = ?"
		args = append(args, filters.Language)
	}

	if len(filters.Kinds) > 0 {
		query += " AND c.kind IN (" + placeholders(len(filters.Kinds)) + ")"
		for _, k := range filters.Kinds {
			args = append(args, string(k))
		}
	}

	if filters.FilePattern != "" {
		query += " AND f.path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	return query, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func collectHits(rows *sql.Rows) ([]Hit, error) {
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0)
	for rows.Next() {
		var h Hit
		var symbol sql.NullString
		var kind string
		if err := rows.Scan(&h.ChunkID, &h.Path, &h.Language, &h.StartLine, &h.EndLine,
			&h.Content, &symbol, &kind, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Symbol = symbol.String
		h.Kind = types.Kind(kind)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var chunkID int64
		var vectorBlob []byte
		if err := rows.Scan(&chunkID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		candidates = append(candidates, candidate{
			chunkID: chunkID,
			score:   CosineSimilarity(queryVector, vector),
		})
	}

	return candidates, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian),
// the layout sqlite-vec reads
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a chunk with its similarity score
type candidate struct {
	chunkID int64
	score   float64
}

// sortCandidates sorts by score descending, ties by ascending chunk id
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}

// ftsTermPattern matches the runs the unicode61 tokenizer keeps
var ftsTermPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// buildMatchExpression turns free text into an FTS5 MATCH expression. Each
// term is quoted, which neutralizes FTS5 operators and syntax characters,
// and terms are OR-ed so bm25 ranks partial matches below full ones.
func buildMatchExpression(query string) string {
	terms := ftsTermPattern.FindAllString(query, -1)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
