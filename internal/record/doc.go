// Package record defines the task record that tasksync keeps consistent
// between the local store and the remote service.
//
// # TaskRecord
//
// A TaskRecord carries the user-visible task fields (title, subtitle, due
// date, completion, sort order) plus the bookkeeping the sync engine needs:
//
//   - LastModifiedDate is bumped by the store on every local mutation and is
//     the primary signal for conflict resolution.
//   - RemoteRecordID is the opaque handle of the remote counterpart. It stays
//     empty until the first successful push.
//   - LastSyncDate records the last successful reconciliation. A record whose
//     LastModifiedDate is newer than LastSyncDate (or that was never synced)
//     is dirty and eligible for outbound push.
//   - IsDeleted marks a tombstone. Tombstones are hidden from listings but stay
//     resolvable by ID so a stale pull cannot resurrect them.
//
// # Grouping
//
// Listings are grouped by the calendar day of the due date relative to "now":
//
//	due day <  today  → GroupPast
//	due day == today  → GroupToday
//	due day >  today  → GroupUpcoming
//
// The comparison is day-granular: a task due yesterday at 23:59 is past, a task
// due today at 23:59 is today.
package record
