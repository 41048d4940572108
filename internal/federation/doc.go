// Package federation resolves query scopes to stores and merges their
// results. Each result carries the name of the store it came from; stores
// that cannot be opened or fail mid-query are skipped and reported instead
// of failing the whole query.
package federation
