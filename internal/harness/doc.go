// Package harness runs YAML-defined execution scenarios end to end.
//
// A scenario seeds a fresh in-memory document store, drives the real
// engine pipeline through a sequence of action requests, and checks the
// outcomes three ways: per-step expectations, final document assertions,
// and optional golden trace snapshots.
//
// Every run uses a frozen clock and sequential execution ids, so two
// runs of the same scenario produce byte-identical traces. Nothing in
// the pipeline is stubbed: steps go through deployment resolution,
// permission checks, handlers, cascade, persistence and side effects
// exactly as production requests do.
package harness
