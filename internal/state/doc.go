// Package state models per-user execution state for deployed tools.
//
// State is a map keyed by element instance id (or a type default key when
// an element id is absent). Each value is one of a sealed set of variants,
// discriminated in JSON by a "kind" field. Unrecognized kinds decode to
// Generic so documents written by newer or older code survive a
// load/merge/store round trip untouched.
//
// Handlers return state as fragments that the orchestrator merges into the
// stored map per key: a fragment replaces the keys it carries and leaves
// every other key alone. Nothing in this package performs I/O.
package state
