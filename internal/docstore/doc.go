// Package docstore provides the transactional key-document store the
// execution engine persists into.
//
// Documents are JSON objects addressed by (collection, key). Collections
// are path-like strings; nested collections use '/' segments, e.g.
// "spaces/abc/placements". The store itself attaches no meaning to the
// nesting - it is an addressing convention shared with the resolver.
//
// The contract consumed by the engine is deliberately small: point reads
// and writes, shallow field merges, atomic numeric field increments, a
// bounded collection scan, and an all-or-nothing batch. Batches are the
// only multi-document primitive; the engine relies on them for the
// dual-write state commit (see internal/engine).
//
// The production implementation is SQLite (sqlite.go): WAL journal,
// single-writer connection pool, documents as JSON text, field increments
// pushed down into a single UPDATE via the JSON1 functions so they are
// atomic without a read-modify-write round trip.
package docstore
