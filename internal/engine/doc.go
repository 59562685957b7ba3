// Package engine orchestrates tool action executions.
//
// One Execute call drives a fixed pipeline: rate-limit check, deployment
// resolution, authorization, context building, handler execution,
// cascade propagation, atomic persistence, and fire-and-forget side
// effects. Failures before the handler runs short-circuit with a typed
// Error; faults inside a handler downgrade to a failed result so the
// pipeline still completes; persistence failures abort with an explicit
// not-saved error so callers can retry; side-effect failures are logged
// and swallowed.
package engine
