// Package sync implements the incremental synchronization and
// reconciliation engine.
//
// One sync run for a (user, source) pair flows through a fixed pipeline:
//
//  1. Acquire the store-resident advisory lock for the pair
//  2. Fetch the provider's current snapshot through its adapter
//  3. Select the entities that need persistence this run (ledger time,
//     heal window, bulk existence check)
//  4. Resolve each selected task's ancestor chain over the fetched forest
//  5. Persist the changes in size-bounded sequential batches
//  6. Propagate structural task changes into every focus record that
//     embeds a stale snapshot
//  7. Commit the sync ledger and release the lock
//
// The engine is the sole writer of tasks and focus records for a pair
// while its lock is held; multiple users' runs may execute concurrently
// because they share no mutable state. Within a run everything is
// single-threaded: batches execute sequentially to bound peak memory,
// and the ancestor cache is not built for concurrent mutation.
//
// Failure handling follows a simple rule: any failure after lock
// acquisition still releases the lock, and only a failure to obtain the
// provider snapshot prevents the ledger from advancing. Everything
// downstream (partial batch failures, propagation failures) is logged,
// counted, and repaired by a later run's heal window.
package sync
