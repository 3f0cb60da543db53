// Package storage defines the search provider contract the coordination layer
// consumes and ships an in-memory implementation of it.
//
// # Overview
//
// The full-text engine is an external collaborator: the router only needs
//
//	Search(ctx, query, isRegex, startTime, endTime) -> []LogEntry, newest first
//	IndexLogEntries(ctx, entries)
//
// Any failure returned by a provider is treated as an I/O failure by the
// caller and surfaced as a cluster.SearchExecutionError; providers never
// retry.
//
// # MemoryIndex
//
// MemoryIndex keeps entries in a slice guarded by a sync.RWMutex. Searches
// take the read lock, so they run in parallel with each other and only
// serialize against indexing.
//
// Query syntax:
//
//	timeout                  substring, case-insensitive, message or raw content
//	source:nginx level:ERROR field filters, combined with any terms
//	*                        everything
//	err(or)?\s+\d+           with isRegex, a regular expression
//
// Compiled regexes are cached process-wide by go-regexpcache.
//
// # Thread Safety
//
// All MemoryIndex methods are safe for concurrent use. Returned slices are
// fresh copies; the LogEntry values themselves must not be mutated.
package storage
