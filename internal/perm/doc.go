// Package perm decides whether a user may execute an action on a
// deployment.
//
// Rules run in a fixed order and the first one that denies wins: the
// effective policy's interaction switch, then the target-kind gate
// (profile owner, or active space membership), then the role
// restriction. Membership lookups that fail for reasons other than a
// missing document deny closed rather than guessing.
package perm
