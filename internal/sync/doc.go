// Package sync keeps the local record store and the remote service
// consistent.
//
// # Overview
//
// A Coordinator runs passes for one record kind. Each pass pulls what
// changed remotely, reconciles it into the store record by record, then
// pushes every local record the remote has not seen yet.
//
// # Architecture
//
//	Command layer ──► store.DB ──OnChange──► Coordinator.Trigger
//	                     ▲                        │
//	                     │ Reconcile              │ Pull / Push / Delete
//	                     │                        ▼
//	                  Adapter[R] ◄──────────  remote.Client
//	            (mapper + resolver)
//
// The Adapter is the per-kind capability: it maps records to and from the
// remote field map, resolves conflicts and updates bookkeeping. TaskAdapter
// is the adapter for task records; NewTaskCoordinator wires it to a store.
//
// # Pass
//
//  1. Pull records changed since the persisted cursor.
//  2. Reconcile each one inside the store's per-record critical section:
//     - remote tombstone: tombstone locally (deletion always wins)
//     - unknown locally: insert it
//     - otherwise Resolve: UseRemote overwrites and marks synced; UseLocal
//     keeps the local copy and schedules a re-push when the remote one
//     is older
//  3. Advance the cursor to the newest change time seen.
//  4. Push dirty records and the re-push set. Tombstones become remote
//     deletes. A record edited while its push was in flight stays dirty.
//
// # Error Handling
//
//   - remote.ErrTransient or any unclassified error aborts the pass;
//     unsynced records stay dirty for the next pass
//   - remote.ErrRejected marks the record rejected and the pass continues
//   - a pulled payload that cannot be stored is counted and skipped
//
// Errors are logged and reported through the pass Report and events; they
// never reach the command that caused the pass.
//
// # Concurrency
//
// Passes are serialized. Trigger is non-blocking and coalesces: any
// number of triggers during a pass produce exactly one follow-up pass.
// Close cancels the running pass at the next record boundary.
//
// Example:
//
//	database, err := store.Open("tasks.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	coord := sync.NewTaskCoordinator(database, remote.NewMemory(), nil)
//	defer coord.Close()
//
//	report, err := coord.Sync(ctx)
package sync
