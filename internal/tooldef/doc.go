// Package tooldef loads and validates authored tool definitions.
//
// Definitions arrive as YAML or JSON. Structural validation happens by
// unifying the input with the embedded CUE schema (schema.cue); cross
// reference checks the schema cannot express (duplicate element ids,
// connection endpoints naming unknown elements) run in Go afterward.
// Validation collects every error it finds rather than failing fast.
package tooldef
