// Package storage provides SQLite-based persistence for one index scope.
//
// Each project gets its own store file and there is one shared global
// store. Stores never reference each other; federation happens at query
// time only.
//
// # Database Schema
//
// Tables:
//   - files: path, xxhash content digest, mtime, size, language
//   - chunks: non-overlapping line ranges, unique per (file_id, start_line, end_line)
//   - chunks_fts: FTS5 index over chunk content and symbol, kept in sync by triggers
//   - embeddings: one vector per chunk
//   - memories / memories_fts: free-text notes with their own keyword index
//   - patterns: named code patterns
//   - schema_version: applied migrations (semver)
//
// Deleting a file cascades to its chunks, their keyword entries and their
// embeddings.
//
// # Basic Usage
//
//	store, err := storage.Open(filepath.Join(dataDir, "projects", "api.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.SearchText(ctx, "parse config", 20, 0, nil)
//
// # Transactions
//
// A file's chunk set is replaced atomically:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_, _ = tx.DeleteChunksByFile(ctx, file.ID)
//	for _, c := range chunks {
//	    if err := tx.InsertChunk(ctx, c); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// The store uses a single connection, so the store itself must not be used
// while a transaction from it is open.
//
// # Build Modes
//
// Pure Go (default):
//
//	go build ./...
//
// Uses modernc.org/sqlite. Vector similarity is computed in Go.
//
// CGO with sqlite-vec:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// Uses github.com/mattn/go-sqlite3 with the sqlite-vec extension, so vector
// ranking runs inside SQLite via vec_distance_cosine.
package storage
