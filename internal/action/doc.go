// Package action defines the handler contract for tool actions and the
// registry that dispatches them.
//
// A handler is a pure state transition: it reads the prior execution
// state and the sanitized payload from the Context and returns a Result
// whose State carries only the keys it wants merged. Handlers never
// mutate the prior state, never perform I/O, and derive time from the
// injected clock so the same context always produces the same result.
//
// Dispatch normalizes action names before lookup. Names that match no
// registered handler fall back to the target element's declared custom
// actions, then to a recorded unknown action; both fallbacks succeed so
// new element types can ship ahead of handler coverage.
package action
