// Package sink persists fire-and-forget side effects: analytics events,
// notification requests, and feed posts.
//
// Every writer runs behind its own circuit breaker so a struggling
// collection cannot stall the execution path. Failed writes are logged
// and dropped; an open breaker drops them without touching the store at
// all.
package sink
