// Package deploy resolves deployment identifiers to a normalized record.
//
// Two addressing schemes coexist. A composite identifier
// "<kind>:<surfaceID>_<placementID>" locates a placement document nested
// under its surface (a space or a profile); a plain identifier locates a
// standalone document in the deployments collection. Composite
// resolution synthesizes the target fields the flat scheme stores
// natively, merges any embedded deployment snapshot underneath the
// placement's own policy, and falls back to the flat collection on a
// miss, so downstream code sees one shape regardless of how the record
// was addressed.
package deploy
