// Package engine is the context object behind every external operation.
// It owns the project registry, the federation router and its cached store
// handles, one indexer per store and at most one filesystem watcher.
//
// Store references name a registered project; an empty reference or
// "global" selects the shared store.
package engine
