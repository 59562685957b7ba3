package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and GetInto when no document exists at
// the requested ref. Callers distinguish it with errors.Is.
var ErrNotFound = errors.New("docstore: document not found")

// Ref addresses a single document.
type Ref struct {
	Collection string
	Key        string
}

// NewRef creates a Ref for a collection and key.
func NewRef(collection, key string) Ref {
	return Ref{Collection: collection, Key: key}
}

// String returns the full document path, "collection/key".
func (r Ref) String() string {
	return r.Collection + "/" + r.Key
}

// Child returns the path of a collection nested under this document,
// e.g. NewRef("deployments", "d1").Child("state") == "deployments/d1/state".
func (r Ref) Child(collection string) string {
	return r.Collection + "/" + r.Key + "/" + collection
}

// Doc is a decoded document body. Numeric values decode as json.Number to
// avoid float64 truncation of large counters; use the typed accessors.
type Doc map[string]any

// String returns the string value of a field, or "" when absent or not a
// string.
func (d Doc) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Bool returns the boolean value of a field, false when absent.
func (d Doc) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Int64 returns the integer value of a field, 0 when absent or not
// numeric. Fractional values truncate.
func (d Doc) Int64(field string) int64 {
	switch v := d[field].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Entry is one document returned from a List scan.
type Entry struct {
	Key string
	Doc Doc
}

// ListOptions bounds and orders a collection scan.
//
// OrderBy names a top-level or dotted document field; empty orders by key
// for deterministic output. Limit <= 0 means no limit.
type ListOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// Op kinds recorded by a Batch.
const (
	opSet       = "set"
	opUpdate    = "update"
	opIncrement = "increment"
	opDelete    = "delete"
)

// Store is the document store contract consumed by the engine and its
// collaborators. Implementations must make Batch commits atomic: either
// every queued op is applied or none is.
type Store interface {
	// Get reads a document body. Returns ErrNotFound when absent.
	Get(ctx context.Context, ref Ref) (Doc, error)

	// GetInto reads a document and unmarshals it into v (a pointer).
	// Returns ErrNotFound when absent.
	GetInto(ctx context.Context, ref Ref, v any) error

	// Set writes a full document body, creating or replacing it.
	// v may be a Doc, a struct with json tags, or any json.Marshaler.
	Set(ctx context.Context, ref Ref, v any) error

	// Update merges the given top-level fields into the document,
	// creating it when absent. Other fields are untouched.
	Update(ctx context.Context, ref Ref, fields map[string]any) error

	// Increment atomically adds delta to a numeric field (dotted paths
	// allowed, e.g. "stats.executions"), creating the document and/or
	// field as zero first when absent.
	Increment(ctx context.Context, ref Ref, field string, delta int64) error

	// Delete removes a document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, ref Ref) error

	// List scans a collection. Results are deterministic: ordered by the
	// requested field, ties and the default by key ascending.
	List(ctx context.Context, collection string, opts ListOptions) ([]Entry, error)

	// NewBatch starts an empty batch. Ops queue in order and apply
	// atomically on Commit.
	NewBatch() Batch

	// Close releases the underlying resources.
	Close() error
}

// Batch queues writes for a single atomic commit.
type Batch interface {
	Set(ref Ref, v any)
	Update(ref Ref, fields map[string]any)
	Increment(ref Ref, field string, delta int64)
	Delete(ref Ref)

	// Len reports the number of queued ops.
	Len() int

	// Commit applies every queued op in one transaction. After Commit
	// the batch must not be reused.
	Commit(ctx context.Context) error
}

// batchOp is one queued batch operation, shared by implementations.
type batchOp struct {
	kind   string
	ref    Ref
	value  any            // set
	fields map[string]any // update
	field  string         // increment
	delta  int64          // increment
}

// marshalBody encodes a document body for storage. Doc values marshal as
// plain objects; typed values go through their own marshalers.
func marshalBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document body: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("document body must be a JSON object, got %.20q", string(data))
	}
	return data, nil
}

// decodeDoc decodes a stored body into a Doc, preserving integer
// precision via json.Number.
func decodeDoc(data []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Doc
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return d, nil
}
