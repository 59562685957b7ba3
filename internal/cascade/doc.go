// Package cascade propagates a completed action along its tool's
// connection graph.
//
// Propagation is a single pass: every edge whose source matches the
// primary action fires its target exactly once, with a context
// synthesized from the primary outputs and the edge's own config, and
// each successful fragment folds into the running state so later edges
// observe earlier results. Downstream failures are logged and skipped,
// a step cap bounds pathological graphs, and nothing in here can fail
// the primary action.
package cascade
