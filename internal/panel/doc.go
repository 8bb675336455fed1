// Package panel owns per-table panel sessions and the pool that multiplexes them.
//
// Ownership boundary:
// - at most one live session per table key
// - surface creation, shell rendering and initial populate
// - disposal symmetry between explicit close and surface close
//
// Lifecycle order:
// - constructing -> active -> disposed, where disposed is terminal and a
//   reopened table gets a new session
//
// Panel does not own connection data or asset files; both are consumed through
// the collaborator interfaces in host.go.
package panel
