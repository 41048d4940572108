// Package indexer keeps a store consistent with the files on disk.
//
// # Basic Usage
//
//	idx := indexer.New(store,
//	    indexer.WithProject("api"),
//	    indexer.WithEmbedder(emb),
//	)
//
//	results := idx.UpdateFiles(ctx, changed, "/path/to/project", 50)
//	for _, r := range results {
//	    if r.Error != nil {
//	        fmt.Printf("%s: %v\n", r.Path, r.Error)
//	    }
//	}
//
// # Per-file pipeline
//
//  1. Read: missing, oversized, binary and non-UTF-8 files fail with
//     types.ErrReadFailure and the batch moves on
//  2. Hash: an unchanged content hash is a skip, not a failure
//  3. Chunk: the chunker produces a non-overlapping cover of the file
//  4. Write: one transaction replaces the file record and its whole chunk
//     set; the full-text index follows the chunks through triggers
//
// Files are handled in groups of batch_size. A group is read and chunked
// concurrently and then written one file at a time, since a store accepts
// a single writer. RunStores drives several stores at once.
//
// # Deletions
//
// DeleteFiles removes file records and cascades to chunks and embeddings.
// A path without its own record is treated as a removed directory.
//
// # Full project pass
//
// IndexProject walks the root with the ignore matcher, re-indexes what
// changed, drops records of vanished files and backfills embeddings. Only
// one full pass runs per indexer at a time; a second call returns
// ErrIndexInProgress.
package indexer
