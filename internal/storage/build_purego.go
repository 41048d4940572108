//go:build purego || !sqlite_vec

package storage

// This file is compiled when building without the sqlite_vec tag. It uses
// a pure Go SQLite implementation (FTS5 included); vector similarity is
// computed in Go.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
