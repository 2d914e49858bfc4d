// Package engine implements the classification and routing pipeline: listing
// captured items, claiming them against overlapping invocations, deriving
// idempotent destination mutations from classifier output, applying them to a
// weakly-transactional document store, and archiving processed captures.
//
// The invariant the package maintains is that an item reaches the done state
// exactly when every destination mutation derived from its analysis has been
// applied, and that re-running any step never duplicates destination content.
package engine
