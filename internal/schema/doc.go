// Package schema provides the data structures shared by the statly
// reconciliation engine: normalized tasks, focus records with embedded
// task snapshots, and the sync ledger/lock records that coordinate runs.
//
// # Tasks
//
// A Task is the normalized form of a provider task. Tasks form a forest:
// each task optionally references a parent task by ID. The ordered
// ancestor chain (self first, root last) is derived at sync time by the
// ancestor chain resolver and stored denormalized on the task so that
// read paths never walk the tree.
//
// # Focus records
//
// A FocusRecord covers a half-open time interval [StartTime, EndTime)
// and embeds a snapshot of every task the user worked on during that
// interval. Snapshots are denormalized copies: they may lag behind the
// task they reference until the propagator catches up. That staleness
// window is an accepted property of the design, not a defect.
//
// # Sync state
//
// SyncLedgerEntry records, per (user, sync type), when the last
// successful run finished. SyncLockEntry is the store-resident advisory
// lock that keeps at most one run in flight per (user, endpoint).
package schema
