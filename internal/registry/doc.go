// Package registry maps project names and root paths to isolated stores.
//
// The registry lives in registry.db under the data directory. Each project
// owns projects/<name>.db and the shared store is global.db. Store handles
// are opened lazily, shared between callers and closed when the last
// borrower releases them, so no backing file is ever opened twice.
//
// DetectProject resolves a path to the registered root that is its
// nearest ancestor; the most specific root wins.
package registry
