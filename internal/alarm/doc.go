// Package alarm is the scheduling core of alarmbot.
//
// It owns every pending alarm and the identifier space they draw from:
//   - Allocator issues small positive ids, reusing freed ids smallest-first
//   - Store maps owner -> id -> Record and drops owners with no alarms
//   - Service is the facade used by the command layer (create/list/edit/delete,
//     timezone preferences, group log configuration)
//   - Sweeper wakes on a fixed interval, delivers due alarms through a Notifier
//     and reclaims them
//
// Store, Allocator and persistence are guarded by a single lock held by
// Service. Snapshots are copied under the lock and written outside it.
package alarm
