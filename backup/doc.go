// Package backup reconciles a local backup directory against the set of
// repositories a user owns on the remote: stale local mirrors are
// deleted, new repositories are mirror-cloned and existing ones are
// fetched, one at a time in a deterministic order.
package backup
