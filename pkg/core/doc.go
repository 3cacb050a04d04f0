// Package core defines the shared data model for bqdrift: queries,
// versions, revisions, schemas, partitions, and invariants.
//
// Values of these types are produced by the loader and handed read-only
// to every downstream component (dependency graph, drift classifier,
// cascade planner, runner). Nothing in this package touches the
// warehouse or the filesystem.
//
// The Golden Rule: pkg/core imports only the stdlib. All other packages
// depend on core, not the reverse.
package core
