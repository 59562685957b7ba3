// Package community fetches the enclosing-surface context for
// deployments placed on a space: upcoming events and the active member
// roster, both capped. The orchestrator hands the result to handlers as
// optional context; fetch failures degrade to an absent context and never
// fail an execution.
package community
